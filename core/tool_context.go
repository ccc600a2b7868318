package core

import (
	"context"
	"fmt"

	"github.com/querychat/querychat/logging"
)

// ToolContext is the constrained surface handed to tool handlers. It carries
// the invocation identity (thread, turn, call id), the ambient context, and
// artifact publication helpers. Artifacts published through the context are
// collected so the executor can attach them to the ToolResult; only durably
// written artifacts ever reach a result.
type ToolContext struct {
	ctx       context.Context
	threadID  string
	turnID    string
	callID    string
	artifacts ArtifactStore
	published []Artifact

	*loggerAdapter
}

// NewToolContext binds a tool invocation to its thread, turn and call ids.
func NewToolContext(ctx context.Context, threadID, turnID, callID string, store ArtifactStore, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:           ctx,
		threadID:      threadID,
		turnID:        turnID,
		callID:        callID,
		artifacts:     store,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Context returns the context associated with the tool invocation. It carries
// the executor's deadline; handlers doing I/O must honor it.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ThreadID returns the conversation thread the invocation belongs to.
func (tc *ToolContext) ThreadID() string { return tc.threadID }

// TurnID returns the turn identifier of the current orchestration pass.
func (tc *ToolContext) TurnID() string { return tc.turnID }

// CallID returns the unique tool call identifier. External-write tools use it
// to derive idempotent artifact names.
func (tc *ToolContext) CallID() string { return tc.callID }

// PublishArtifact durably stores a generated file and records it for the
// result. The artifact id is derived from the call id so re-publication after
// a retried call lands on the same name.
func (tc *ToolContext) PublishArtifact(kind ArtifactKind, name string, data []byte) (Artifact, error) {
	if tc.artifacts == nil {
		return Artifact{}, fmt.Errorf("artifact store not configured")
	}

	art := Artifact{ID: tc.callID, Kind: kind, Name: name}

	published, err := tc.artifacts.Publish(tc.ctx, tc.threadID, art, data)
	if err != nil {
		return Artifact{}, err
	}

	tc.published = append(tc.published, published)

	tc.LogInfo("tool.artifact.published",
		"thread_id", tc.threadID,
		"call_id", tc.callID,
		"kind", string(kind),
		"name", published.Name,
		"bytes", len(data),
	)

	return published, nil
}

// LoadArtifact retrieves a previously published artifact by id.
func (tc *ToolContext) LoadArtifact(artifactID string) ([]byte, Artifact, error) {
	if tc.artifacts == nil {
		return nil, Artifact{}, fmt.Errorf("artifact store not configured")
	}

	return tc.artifacts.Get(tc.ctx, tc.threadID, artifactID)
}

// PublishedArtifacts returns the artifacts durably written during this
// invocation, in publication order.
func (tc *ToolContext) PublishedArtifacts() []Artifact {
	out := make([]Artifact, len(tc.published))
	copy(out, tc.published)
	return out
}

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.ctx == nil || tc.threadID == "" || tc.callID == "" {
		return fmt.Errorf("invalid ToolContext")
	}

	return nil
}
