package testutil

import (
	"context"
	"testing"

	"github.com/querychat/querychat/core"
)

// ThreadBuilder constructs a message history with fluent chaining for tests.
// Example:
//
//	msgs := NewThreadBuilder().User("hi").Assistant("hello").Build()
type ThreadBuilder struct {
	messages []core.Message
}

// NewThreadBuilder creates an empty builder. Use chainable methods (User,
// Assistant, ToolCall, ToolResult) then call Build or Seed.
func NewThreadBuilder() *ThreadBuilder {
	return &ThreadBuilder{}
}

// User appends a user text message (chainable).
func (b *ThreadBuilder) User(text string) *ThreadBuilder {
	b.messages = append(b.messages, core.NewUserMessage(text))
	return b
}

// Assistant appends an assistant text message (chainable).
func (b *ThreadBuilder) Assistant(text string) *ThreadBuilder {
	b.messages = append(b.messages, core.NewAssistantMessage(text))
	return b
}

// ToolCall appends an assistant tool-call message and returns the call id so
// a matching result can reference it (chainable via the builder itself).
func (b *ThreadBuilder) ToolCall(name string, args map[string]any) *ThreadBuilder {
	call := core.NewToolCall(name, args)
	b.messages = append(b.messages, core.NewToolCallMessage(call))
	return b
}

// ToolResult appends a successful tool-result message correlated with the
// most recent tool call (chainable).
func (b *ThreadBuilder) ToolResult(payload any) *ThreadBuilder {
	callID := ""
	name := ""
	for i := len(b.messages) - 1; i >= 0; i-- {
		if tc := b.messages[i].ToolCall; tc != nil {
			callID = tc.ID
			name = tc.Name
			break
		}
	}
	res := core.ToolResult{CallID: callID, Name: name, Status: core.ToolStatusSuccess, Payload: payload}
	b.messages = append(b.messages, core.NewToolResultMessage(res))
	return b
}

// Build returns the accumulated messages.
func (b *ThreadBuilder) Build() []core.Message {
	out := make([]core.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Seed appends the accumulated messages to a thread in the given store,
// failing the test on error.
func (b *ThreadBuilder) Seed(t *testing.T, store core.ThreadStore, threadID string) {
	t.Helper()
	for _, msg := range b.messages {
		if err := store.Append(context.Background(), threadID, msg); err != nil {
			t.Fatalf("seed thread %s: %v", threadID, err)
		}
	}
}
