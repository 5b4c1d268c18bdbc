// Package inference defines the contract between conversational behaviors and
// the language model that generates their replies.
package inference

import (
	"context"
	"errors"
	"strings"
)

// ErrNoReply is returned by models that produced neither text nor tool calls.
var ErrNoReply = errors.New("inference: model returned no reply")

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry of a chat transcript.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a request by the model to run a tool. Arguments is a JSON
// object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a tool the model may call. Parameters is a JSON schema
// value, or nil for a tool without arguments.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Prompt is the input of a model call.
type Prompt struct {
	// System frames the whole conversation.
	System string
	// History is the (already bounded) chat history.
	History []Message
	// Instruction is appended after the history as a system message.
	Instruction string
	Tools       []ToolSpec
}

// Messages flattens p into the transcript sent to a chat model.
func (p Prompt) Messages() []Message {
	out := make([]Message, 0, len(p.History)+2)
	if p.System != "" {
		out = append(out, Message{Role: RoleSystem, Content: p.System})
	}
	out = append(out, p.History...)
	if p.Instruction != "" {
		out = append(out, Message{Role: RoleSystem, Content: p.Instruction})
	}
	return out
}

// Reply is the output of [Model.Complete]. It is a structured record, so it
// may be stored on a blackboard as-is.
type Reply struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamFunc receives reply text as it is generated. It is called from the
// goroutine running the model call.
type StreamFunc func(delta string)

// Model generates replies. Implementations must be safe for concurrent use.
type Model interface {
	// Complete generates a reply to p, passing text to stream (if non-nil)
	// as it arrives. The returned Reply holds the full text.
	Complete(ctx context.Context, p Prompt, stream StreamFunc) (Reply, error)
	// Structured generates a JSON document matching the shape of target (a
	// pointer to a struct) and decodes it into target.
	Structured(ctx context.Context, p Prompt, target any) error
}

// Transcript renders messages as plain text, one "role: content" line per
// message, for prompts that embed part of a conversation.
func Transcript(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}
