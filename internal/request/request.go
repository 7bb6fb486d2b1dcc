package request

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// TrustLevel is the ordered tier assigned to every inbound request.
// The numeric order is load-bearing: every access check compares levels
// with < and >=.
type TrustLevel int

const (
	TrustAnonymous TrustLevel = iota
	TrustContributor
	TrustAuthorized
	TrustElevated
)

var trustNames = map[TrustLevel]string{
	TrustAnonymous:   "anonymous",
	TrustContributor: "contributor",
	TrustAuthorized:  "authorized",
	TrustElevated:    "elevated",
}

func (t TrustLevel) String() string {
	if name, ok := trustNames[t]; ok {
		return name
	}
	return fmt.Sprintf("trust(%d)", int(t))
}

// AtLeast reports whether t meets the minimum level min.
func (t TrustLevel) AtLeast(min TrustLevel) bool {
	return t >= min
}

// ParseTrustLevel maps a configured name to its level. Unknown names are
// an error so misspelled project config fails loudly.
func ParseTrustLevel(s string) (TrustLevel, error) {
	for level, name := range trustNames {
		if name == s {
			return level, nil
		}
	}
	return TrustAnonymous, fmt.Errorf("unknown trust level %q", s)
}

// Channel identifies how a request entered the system.
type Channel string

const (
	ChannelWebhook  Channel = "webhook"
	ChannelAPI      Channel = "api"
	ChannelCLI      Channel = "cli"
	ChannelInternal Channel = "internal"
)

// Authenticated reports whether the channel carries verified credentials.
// Webhook deliveries are signature-checked, API calls are key-checked, and
// the CLI runs as the operator. Internal requests originate from an
// already-governed session.
func (c Channel) Authenticated() bool {
	switch c {
	case ChannelWebhook, ChannelAPI, ChannelCLI, ChannelInternal:
		return true
	default:
		return false
	}
}

// Request is one inbound unit of work. Immutable after construction
// except Trust, which the classifier refines exactly once.
type Request struct {
	ID        string
	CreatedAt time.Time
	Trust     TrustLevel
	Channel   Channel
	Identity  string
	Project   string
	Intent    string
	Payload   map[string]string
}

// New builds a request with a fresh ULID and anonymous trust.
func New(channel Channel, identity, project, intent string) *Request {
	return &Request{
		ID:        ulid.Make().String(),
		CreatedAt: time.Now().UTC(),
		Trust:     TrustAnonymous,
		Channel:   channel,
		Identity:  identity,
		Project:   project,
		Intent:    intent,
		Payload:   make(map[string]string),
	}
}

// Label values arrive as a comma-separated payload entry written by the
// ingress layer.
const PayloadLabels = "labels"

// PayloadIssue is the originating issue or PR number, when there is one.
const PayloadIssue = "issue"

// PayloadEvent is the forge event name that produced the request.
const PayloadEvent = "event"

// PayloadAction is the forge event action, for example "opened".
const PayloadAction = "action"

// PayloadThread is the conversation thread an internal request continues.
const PayloadThread = "thread"
