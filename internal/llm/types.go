package llm

import (
	"context"
	"strings"
	"time"
)

// RemoteCaller submits one turn to the model endpoint and returns the decoded
// fragment stream for it.
type RemoteCaller interface {
	Stream(ctx context.Context, req Request) (FragmentStream, error)
}

// FragmentStream yields fragments until io.EOF.
type FragmentStream interface {
	Recv() (Fragment, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model     string
	SessionID string
	Messages  []Message
	Tools     []ToolSpec
}

// Role identifies a message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message is one history entry. Entries built by the helpers below carry a
// single part, so each one is exactly one of user-text, model-text,
// model-tool-call or tool-result.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Part represents a single content part.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolSpec describes a callable tool advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	ThoughtSig []byte         `json:"thought_signature,omitempty"` // replayed to thinking models with the call
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"` // the tool ran but reported failure
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// AssistantToolCall records a tool call the model made.
func AssistantToolCall(call ToolCall) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartToolCall, ToolCall: &call}},
	}
}

func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
			},
		}},
	}
}

// ToolErrorMessage creates a tool result message that indicates an error.
// The error is passed to the model so it can react instead of failing the turn.
func ToolErrorMessage(id, name, errorText string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: errorText,
				IsError: true,
			},
		}},
	}
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// contextKey is a private type for context keys to prevent collisions.
type contextKey string

const retryNotifierKey contextKey = "retry_notifier"

// RetryNotifier is told about each backoff wait before it starts. attempt is
// 1-based and never exceeds max.
type RetryNotifier func(attempt, max int, wait time.Duration)

// ContextWithRetryNotifier attaches a notifier that the retry gate calls on
// every backoff wait made on behalf of this context.
func ContextWithRetryNotifier(ctx context.Context, fn RetryNotifier) context.Context {
	return context.WithValue(ctx, retryNotifierKey, fn)
}

// RetryNotifierFromContext returns the notifier attached to ctx, or nil.
func RetryNotifierFromContext(ctx context.Context) RetryNotifier {
	if fn, ok := ctx.Value(retryNotifierKey).(RetryNotifier); ok {
		return fn
	}
	return nil
}
