package core

import (
	"errors"
	"fmt"
)

// ErrStepLimit is returned by the loop when a turn exhausts its step budget.
// It is a designed termination, not a failure: the caller still receives a
// user-visible "could not complete" answer.
var ErrStepLimit = errors.New("step limit exceeded")

// ErrToolNotFound is returned by the registry for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// StorageError wraps a ThreadStore failure. Retryable errors (connection
// refused, pool exhausted) may be retried a bounded number of times by the
// loop; non-retryable ones surface immediately.
type StorageError struct {
	Op        string // "load" or "append"
	ThreadID  string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a retryable storage failure.
func NewStorageError(op, threadID string, err error) *StorageError {
	return &StorageError{Op: op, ThreadID: threadID, Err: err, Retryable: true}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ReasoningError wraps a failure of the external reasoning capability
// (network error, provider outage, malformed decision). Fatal to the turn;
// the user is told to try again.
type ReasoningError struct {
	Err error
}

func (e *ReasoningError) Error() string { return fmt.Sprintf("reasoning failed: %v", e.Err) }

func (e *ReasoningError) Unwrap() error { return e.Err }

// IsReasoningError reports whether err is (or wraps) a ReasoningError.
func IsReasoningError(err error) bool {
	var re *ReasoningError
	return errors.As(err, &re)
}
