// Package model defines the reasoning interface the agent drives each step.
// A model receives the rendered instructions, the visible slice of the
// conversation and the tool catalog, and answers with exactly one decision:
// either final text for the user or a single tool call to dispatch.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/querychat/querychat/core"
)

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by the agent loop.
// History carries only the window the agent decided to expose; providers
// must not assume it is the full conversation.
type Request struct {
	Instructions string           `json:"instructions"`
	History      []core.Message   `json:"history"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// Decision is the single outcome of one reasoning step. Exactly one of
// Text and ToolCall is set: Text terminates the turn, ToolCall requests
// a dispatch. Providers that return several calls in one completion keep
// the first and drop the rest.
type Decision struct {
	Text     string         `json:"text,omitempty"`
	ToolCall *core.ToolCall `json:"tool_call,omitempty"`
}

// IsToolCall reports whether the decision requests a tool dispatch.
func (d Decision) IsToolCall() bool { return d.ToolCall != nil }

// TokenUsage captures token usage statistics for a decision.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the agent loop requires to drive reasoning.
type Model interface {
	// Decide performs one reasoning step. Any returned error is treated as
	// a reasoning failure and ends the current turn.
	Decide(ctx context.Context, req Request) (Decision, error)

	// Info returns information about the model implementation.
	Info() Info
}

// ScriptedModel is a deterministic in-memory Model for tests and examples.
// Decisions are replayed in the order they were enqueued; once the script
// is exhausted further calls fail. Every request is recorded so tests can
// assert on the window and catalog the agent actually sent.
type ScriptedModel struct {
	mu        sync.Mutex
	script    []step
	requests  []Request
	callCount int
	info      Info
}

type step struct {
	decision Decision
	err      error
}

// NewScriptedModel constructs an empty ScriptedModel with tool support enabled.
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{
		info: Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
	}
}

// EnqueueText appends a terminal text decision to the script.
func (m *ScriptedModel) EnqueueText(text string) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step{decision: Decision{Text: text}})
	return m
}

// EnqueueToolCall appends a tool call decision to the script.
func (m *ScriptedModel) EnqueueToolCall(call core.ToolCall) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step{decision: Decision{ToolCall: &call}})
	return m
}

// EnqueueError appends a failing step to the script.
func (m *ScriptedModel) EnqueueError(err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step{err: err})
	return m
}

// Decide implements Model by replaying the next scripted step.
func (m *ScriptedModel) Decide(_ context.Context, req Request) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.callCount >= len(m.script) {
		return Decision{}, fmt.Errorf("scripted model exhausted after %d steps", m.callCount)
	}
	s := m.script[m.callCount]
	m.callCount++
	if s.err != nil {
		return Decision{}, s.err
	}
	return s.decision, nil
}

// Requests returns a copy of every request seen so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many Decide calls have been made.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
