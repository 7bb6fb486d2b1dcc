// Package contract defines the provider-neutral completion types. Every
// provider maps these to its own wire format; nothing above the model
// layer imports a vendor SDK.
package contract

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Name       string      `json:"name,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	IsError    bool        `json:"is_error,omitempty"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type CompletionRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
}

type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

const (
	BlockText    = "text"
	BlockToolUse = "tool_use"
)

// Block is one ordered element of a model response.
type Block struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type CompletionResponse struct {
	Blocks     []Block    `json:"blocks"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

func ToolUseBlock(call *ToolCall) Block {
	return Block{Type: BlockToolUse, ToolCall: call}
}

// Text concatenates the text blocks in order.
func (r *CompletionResponse) Text() string {
	var out string
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the tool-use blocks in order.
func (r *CompletionResponse) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse && b.ToolCall != nil {
			calls = append(calls, b.ToolCall)
		}
	}
	return calls
}

// AssistantMessage converts a response into the history message that
// represents the assistant turn.
func (r *CompletionResponse) AssistantMessage() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   r.Text(),
		ToolCalls: r.ToolCalls(),
	}
}

// ToolResultMessage builds the history message carrying one tool result.
func ToolResultMessage(call *ToolCall, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    content,
		IsError:    isError,
	}
}
