package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/config"
	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/model/contract"
	anthropicProvider "github.com/wardenhq/warden/internal/model/providers/anthropic"
	geminiProvider "github.com/wardenhq/warden/internal/model/providers/gemini"
	openaiProvider "github.com/wardenhq/warden/internal/model/providers/openai"
)

// Router selects the configured completion and embedding providers and
// applies the request defaults from config. It satisfies Completer and
// Embedder for everything above the model layer.
type Router struct {
	cfg        config.ModelConfig
	timeout    time.Duration
	providers  map[string]Provider
	completion Provider
	embedder   Provider
}

func NewRouter(modelCfg config.ModelConfig, providersCfg config.ProvidersConfig) (*Router, error) {
	timeout, err := config.DurationOrDefault(modelCfg.Timeout, config.DefaultModelTimeout)
	if err != nil {
		return nil, wardenErrors.Configuration(fmt.Sprintf("invalid model.timeout: %v", err))
	}

	r := &Router{
		cfg:       modelCfg,
		timeout:   timeout,
		providers: make(map[string]Provider),
	}

	completionName := modelCfg.Provider
	if completionName == "" {
		completionName = config.DefaultModelProvider
	}
	r.completion, err = r.provider(completionName, providersCfg, modelCfg.Embedding.Model)
	if err != nil {
		return nil, err
	}

	embedderName := modelCfg.Embedding.Provider
	if embedderName == "" {
		embedderName = config.DefaultEmbeddingProvider
	}
	r.embedder, err = r.provider(embedderName, providersCfg, modelCfg.Embedding.Model)
	if err != nil {
		return nil, err
	}

	slog.Info("Model router ready", "completion", r.completion.Name(), "model", modelCfg.Name, "embedder", r.embedder.Name())
	return r, nil
}

// provider returns the backend for name, constructing it once. The same
// instance serves completion and embedding when both point at one backend.
func (r *Router) provider(name string, cfg config.ProvidersConfig, embedModel string) (Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	var p Provider
	switch name {
	case "anthropic":
		p = anthropicProvider.New(cfg.Anthropic.APIKey)
	case "openai":
		baseURL := cfg.OpenAI.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}
		p = openaiProvider.New(cfg.OpenAI.APIKey, baseURL, embedModel)
	case "gemini":
		gp, err := geminiProvider.New(cfg.Gemini.APIKey, embedModel)
		if err != nil {
			return nil, wardenErrors.Wrap(err, "failed to create gemini provider")
		}
		p = gp
	default:
		return nil, wardenErrors.Configuration(fmt.Sprintf("unknown model provider %q", name))
	}

	r.providers[name] = p
	return p, nil
}

func (r *Router) Complete(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if req.Model == "" {
		req.Model = r.cfg.Name
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = r.cfg.MaxTokens
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	slog.Debug("Dispatching completion", "provider", r.completion.Name(), "model", req.Model, "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := r.completion.Generate(ctx, req)
	if err != nil {
		return nil, wardenErrors.MapExternal(err)
	}

	slog.Debug("Completion finished", "model", req.Model, "stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, wardenErrors.MapExternal(err)
	}
	return vec, nil
}
