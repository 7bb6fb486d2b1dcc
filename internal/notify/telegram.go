package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

// TelegramSink messages one chat.
type TelegramSink struct {
	api    telegramAPI
	chatID int64
}

// NewTelegramSink dials the bot API, which validates the token.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, wardenErrors.Wrap(err, "init telegram bot")
	}
	return &TelegramSink{api: bot, chatID: chatID}, nil
}

func (t *TelegramSink) Name() string { return SinkTelegram }

func (t *TelegramSink) Send(ctx context.Context, msg Message) (string, error) {
	text := msg.Title
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return "", wardenErrors.Wrap(err, "send telegram message")
	}
	return fmt.Sprintf("telegram:%d", t.chatID), nil
}

func (t *TelegramSink) Health(ctx context.Context) error {
	if t.api == nil {
		return wardenErrors.Transient("telegram bot not initialized")
	}
	if _, err := t.api.GetMe(); err != nil {
		return wardenErrors.Transient("telegram connection failed: " + err.Error())
	}
	return nil
}
