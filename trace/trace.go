// Package trace records what happened during each turn for offline
// inspection: every message the turn produced, annotated with the run's
// start and end times. Traces are observability data; a failing trace store
// never fails the turn that produced it.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/querychat/querychat/core"
)

// Trace is one recorded message of a turn.
type Trace struct {
	ThreadID     string         `json:"thread_id"`
	MsgID        string         `json:"msg_id"`
	Type         string         `json:"type"` // user | assistant | tool
	Content      string         `json:"content,omitempty"`
	ToolCall     *core.ToolCall `json:"tool_call,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	ToolCallID   string         `json:"tool_call_id,omitempty"`
	RunStartTime time.Time      `json:"run_start_time"`
	RunEndTime   time.Time      `json:"run_end_time"`
}

// Store persists turn traces.
type Store interface {
	// Add records the traces of one finished turn.
	Add(ctx context.Context, traces []Trace) error

	// ByThread returns every trace recorded for a thread, oldest first.
	ByThread(ctx context.Context, threadID string) ([]Trace, error)
}

// FromMessages converts the messages a turn produced into trace rows.
func FromMessages(threadID string, messages []core.Message, start, end time.Time) []Trace {
	traces := make([]Trace, 0, len(messages))
	for _, msg := range messages {
		tr := Trace{
			ThreadID:     threadID,
			MsgID:        msg.ID,
			Type:         string(msg.Role),
			Content:      msg.Text,
			RunStartTime: start,
			RunEndTime:   end,
		}
		if msg.ToolCall != nil {
			tr.ToolCall = msg.ToolCall
			tr.ToolCallID = msg.ToolCall.ID
		}
		if msg.ToolResult != nil {
			tr.ToolName = msg.ToolResult.Name
			tr.ToolCallID = msg.ToolResult.CallID
		}
		traces = append(traces, tr)
	}
	return traces
}

// InMemoryStore keeps traces in process memory, for tests and examples.
type InMemoryStore struct {
	mu     sync.RWMutex
	traces map[string][]Trace
}

// NewInMemoryStore creates an empty in-memory trace store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{traces: make(map[string][]Trace)}
}

// Add implements Store.
func (s *InMemoryStore) Add(_ context.Context, traces []Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range traces {
		s.traces[tr.ThreadID] = append(s.traces[tr.ThreadID], tr)
	}
	return nil
}

// ByThread implements Store.
func (s *InMemoryStore) ByThread(_ context.Context, threadID string) ([]Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trace, len(s.traces[threadID]))
	copy(out, s.traces[threadID])
	return out, nil
}
