package core

import (
	"context"
	"time"
)

// Thread is the persisted metadata of one conversation. The identifier is an
// opaque string supplied by the caller; it is immutable once the thread is
// created. Message ordering within a thread is total (append order).
type Thread struct {
	ID         string    `json:"id"`
	Created    time.Time `json:"created"`
	LastActive time.Time `json:"last_active"`
}

// ThreadStore persists the ordered message history per conversation thread.
//
// Contract:
//   - Load returns an empty slice (not an error) for an unknown thread.
//   - Append is atomic per call and creates the thread lazily on first use.
//   - Append may be called concurrently for different thread ids; callers
//     serialize appends to the same thread (the agent holds a per-thread
//     lock around a full turn).
//
// Storage failures are reported as *StorageError so the loop can distinguish
// retryable outages from programming errors.
type ThreadStore interface {
	Load(ctx context.Context, threadID string) ([]Message, error)
	Append(ctx context.Context, threadID string, msg Message) error
}

// ThreadLister is an optional extension of ThreadStore for implementations
// that can enumerate known threads.
type ThreadLister interface {
	Threads(ctx context.Context) ([]Thread, error)
}
