// Package memory provides conversation store implementations. Every store
// satisfies core.ThreadStore: an ordered, append-only message log per thread
// where same-thread appends are serialized and loads of unknown threads
// return an empty history rather than an error.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/querychat/querychat/core"
)

// InMemoryStore keeps conversations in process memory. It is the default
// backend for tests, examples and single-process deployments.
//
// Appends to the same thread are serialized by a per-store mutex; loads
// return defensive copies so callers can never mutate stored history.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]core.Message
	threads  map[string]*core.Thread
}

// NewInMemoryStore creates an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages: make(map[string][]core.Message),
		threads:  make(map[string]*core.Thread),
	}
}

// Load returns the full ordered history of a thread. Unknown threads yield
// an empty slice.
func (s *InMemoryStore) Load(_ context.Context, threadID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[threadID]
	out := make([]core.Message, len(history))
	copy(out, history)
	return out, nil
}

// Append adds one message to the end of the thread's history, creating the
// thread on first use.
func (s *InMemoryStore) Append(_ context.Context, threadID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	th, ok := s.threads[threadID]
	if !ok {
		th = &core.Thread{ID: threadID, Created: now}
		s.threads[threadID] = th
	}
	th.LastActive = now
	s.messages[threadID] = append(s.messages[threadID], msg)
	return nil
}

// Threads implements core.ThreadLister, sorted by last activity (newest first).
func (s *InMemoryStore) Threads(_ context.Context) ([]core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Thread, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

// Len reports the number of messages stored for a thread.
func (s *InMemoryStore) Len(threadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[threadID])
}
