package core

import (
	"time"

	"github.com/google/uuid"
)

// Conversation roles. Messages with other roles are never produced by the
// loop and stores are free to reject them.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a thread's ordered history. Messages are immutable
// once appended: the loop builds a new Message for every state transition
// (user input, assistant answer, tool call request, tool result) and never
// rewrites an existing one.
//
// Exactly one of Text, ToolCall or ToolResult carries the payload:
//   - RoleUser / RoleAssistant messages carry Text
//   - RoleAssistant messages requesting a tool carry ToolCall
//   - RoleTool messages carry ToolResult
type Message struct {
	ID         string      `json:"id"`
	Role       string      `json:"role"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Text: text, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant-authored text message (a final or
// intermediate answer).
func NewAssistantMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Text: text, Timestamp: time.Now().UTC()}
}

// NewToolCallMessage records the assistant requesting a tool invocation.
func NewToolCallMessage(call ToolCall) Message {
	return Message{ID: NewID(), Role: RoleAssistant, ToolCall: &call, Timestamp: time.Now().UTC()}
}

// NewToolResultMessage records the outcome of a tool invocation.
func NewToolResultMessage(res ToolResult) Message {
	return Message{ID: NewID(), Role: RoleTool, ToolResult: &res, Timestamp: time.Now().UTC()}
}

// ToolCall is a single tool invocation request produced by the reasoning
// step. It is consumed exactly once by the executor; the CallID correlates
// the request with its ToolResult and seeds idempotent artifact naming for
// external-write tools.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// NewToolCall creates a ToolCall with a fresh call id.
func NewToolCall(name string, args map[string]any) ToolCall {
	return ToolCall{ID: NewID(), Name: name, Arguments: args}
}

// ToolStatus classifies the outcome of a tool invocation.
type ToolStatus string

const (
	// ToolStatusSuccess marks a completed invocation whose payload is valid.
	ToolStatusSuccess ToolStatus = "success"
	// ToolStatusFailure marks validation errors, handler errors and panics.
	ToolStatusFailure ToolStatus = "failure"
	// ToolStatusTimeout marks an invocation abandoned after its deadline.
	ToolStatusTimeout ToolStatus = "timeout"
)

// ToolResult is the recorded outcome of a ToolCall. Results are data, not
// errors: the loop appends them to the thread and feeds them back to the
// reasoning step, which decides whether to retry, change course or apologize.
type ToolResult struct {
	CallID   string     `json:"call_id"`
	Name     string     `json:"name"`
	Status   ToolStatus `json:"status"`
	Payload  any        `json:"payload,omitempty"`
	Artifact *Artifact  `json:"artifact,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool { return r.Status == ToolStatusSuccess }

// NewID generates a unique identifier for messages, calls and turns.
func NewID() string { return uuid.NewString() }
