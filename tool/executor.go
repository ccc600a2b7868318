package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/logging"
)

// validator is implemented by tools that can check arguments without running.
// FunctionTool implements it; custom tools fall back to schema validation
// inside Call.
type validator interface {
	Validate(args map[string]any) error
}

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	// Timeout bounds each invocation. Zero means no bound.
	Timeout time.Duration

	// Logger receives execution telemetry. Nil uses the no-op logger.
	Logger logging.Logger
}

// Executor runs tool calls against a frozen registry and converts every
// outcome into a core.ToolResult. Failures are data: an executor never
// returns an error for a tool that misbehaved, only for programmer mistakes
// such as executing against an unfrozen registry.
//
// The pipeline per call is validate, invoke under the configured timeout,
// then classify into success, failure or timeout. A validation failure
// short-circuits before the tool runs. Panics inside a tool are recovered
// and classified as failures.
type Executor struct {
	registry  *Registry
	artifacts core.ArtifactStore
	opts      ExecutorOptions
}

// NewExecutor creates an Executor over a registry and artifact store.
func NewExecutor(registry *Registry, artifacts core.ArtifactStore, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{Timeout: 30 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Executor{registry: registry, artifacts: artifacts, opts: opts}
}

// Execute runs one tool call to completion and returns the classified result.
// The returned result always carries the call id and tool name so it can be
// appended to the conversation even when the tool was never invoked.
func (e *Executor) Execute(ctx context.Context, threadID, turnID string, call core.ToolCall) core.ToolResult {
	logger := e.opts.Logger

	t, err := e.registry.Resolve(call.Name)
	if err != nil {
		logger.Warn("executor.unknown_tool", "tool", call.Name, "call_id", call.ID)
		return failure(call, NewToolError(call.Name, "unknown tool", CodeValidation).Error())
	}

	if v, ok := t.(validator); ok {
		if err := v.Validate(call.Arguments); err != nil {
			logger.Warn("executor.validation_failed", "tool", call.Name, "call_id", call.ID, "error", err.Error())
			return failure(call, err.Error())
		}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if e.opts.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	toolCtx := core.NewToolContext(execCtx, threadID, turnID, call.ID, e.artifacts, logger)

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("executor.panic", "tool", call.Name, "call_id", call.ID,
					"panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
				done <- outcome{err: NewToolError(call.Name, fmt.Sprintf("panic: %v", r), CodeExecution)}
			}
		}()
		payload, err := t.Call(toolCtx, call.Arguments)
		done <- outcome{payload: payload, err: err}
	}()

	start := time.Now()
	select {
	case out := <-done:
		if out.err != nil {
			return failure(call, out.err.Error())
		}
		res := core.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  core.ToolStatusSuccess,
			Payload: out.payload,
		}
		if published := toolCtx.PublishedArtifacts(); len(published) > 0 {
			art := published[len(published)-1]
			res.Artifact = &art
		}
		logger.Debug("executor.done", "tool", call.Name, "call_id", call.ID,
			"duration_ms", time.Since(start).Milliseconds())
		return res
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warn("executor.timeout", "tool", call.Name, "call_id", call.ID,
				"timeout", e.opts.Timeout.String())
			return core.ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Status: core.ToolStatusTimeout,
				Error:  NewToolError(call.Name, fmt.Sprintf("timed out after %s", e.opts.Timeout), CodeTimeout).Error(),
			}
		}
		// Parent cancellation, not a per-tool deadline.
		return failure(call, NewToolError(call.Name, "canceled", CodeExecution).Error())
	}
}

func failure(call core.ToolCall, msg string) core.ToolResult {
	return core.ToolResult{
		CallID: call.ID,
		Name:   call.Name,
		Status: core.ToolStatusFailure,
		Error:  msg,
	}
}
