// Package tool implements the function calling subsystem that lets the agent
// invoke structured capabilities (database queries, file generation) with
// schema validated arguments, consistent error handling and side effect
// metadata the executor uses for timeout and idempotency decisions.
package tool

import (
	"fmt"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/internal/util"
)

// EffectClass declares the side effect profile of a tool. The executor and
// the dedup layer treat the classes differently: pure invocations may be
// satisfied from a same-turn cache, external writes never are.
type EffectClass string

const (
	// EffectPure marks tools whose invocation observes but never mutates
	// the world outside the conversation. Safe to repeat and to dedup.
	EffectPure EffectClass = "pure"

	// EffectExternalWrite marks tools that create durable artifacts
	// (files on disk). Output names are derived from the call id so a
	// retried invocation overwrites its own output instead of piling up
	// duplicates.
	EffectExternalWrite EffectClass = "external-write"
)

// Tool defines the interface for extending the agent with callable capabilities.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions (snake_case names)
//   - Define proper JSON schema for parameters
//   - Return errors as data rather than panicking
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// The description is provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// The schema is used for argument validation and model function calling.
	Parameters() map[string]any

	// Effect returns the tool's side effect class.
	Effect() EffectClass

	// Call executes the tool with already-validated arguments and a
	// ToolContext giving access to the call id, artifact publishing and
	// logging. Errors returned here are execution failures, not argument
	// problems; the executor validates before calling.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes attached to ToolError for uniform classification downstream.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
