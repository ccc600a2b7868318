package artifact

import (
	"context"
	"sync"
	"time"

	"github.com/querychat/querychat/core"
)

// InMemoryStore keeps artifacts in process memory. Intended for tests and
// examples; production deployments use the filesystem store.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]entry // threadID -> artifactID -> entry
	opts    Options
	nowFn   func() time.Time
}

type entry struct {
	art  core.Artifact
	data []byte
}

// Options configure artifact stores.
type Options struct {
	// TTL bounds artifact lifetime. Zero disables expiry.
	TTL time.Duration

	// DownloadPrefix builds the user-facing reference string, default "/downloads".
	DownloadPrefix string
}

// NewInMemoryStore creates an empty in-memory artifact store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{DownloadPrefix: "/downloads"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		entries: make(map[string]map[string]entry),
		opts:    opts,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Publish stores data and finalizes the artifact metadata. Re-publishing the
// same artifact id replaces the previous copy.
func (s *InMemoryStore) Publish(_ context.Context, threadID string, art core.Artifact, data []byte) (core.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	art.Location = "memory://" + threadID + "/" + art.Name
	art.DownloadRef = s.opts.DownloadPrefix + "/" + art.Name
	art.Created = now
	if s.opts.TTL > 0 {
		art.Expires = now.Add(s.opts.TTL)
	}
	if s.entries[threadID] == nil {
		s.entries[threadID] = make(map[string]entry)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.entries[threadID][art.ID] = entry{art: art, data: stored}
	return art, nil
}

// Get retrieves a published artifact and its content.
func (s *InMemoryStore) Get(_ context.Context, threadID, artifactID string) ([]byte, core.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[threadID][artifactID]
	if !ok {
		return nil, core.Artifact{}, notFound(threadID, artifactID)
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return data, e.art, nil
}

// List returns the thread's artifacts in unspecified order.
func (s *InMemoryStore) List(_ context.Context, threadID string) ([]core.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Artifact, 0, len(s.entries[threadID]))
	for _, e := range s.entries[threadID] {
		out = append(out, e.art)
	}
	return out, nil
}

// Delete removes an artifact. Deleting an unknown artifact is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, threadID, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[threadID], artifactID)
	return nil
}

// Sweep removes every expired artifact and reports how many were reclaimed.
func (s *InMemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reclaimed := 0
	for threadID, arts := range s.entries {
		for id, e := range arts {
			if !e.art.Expires.IsZero() && e.art.Expired(now) {
				delete(arts, id)
				reclaimed++
			}
		}
		if len(arts) == 0 {
			delete(s.entries, threadID)
		}
	}
	return reclaimed, nil
}
