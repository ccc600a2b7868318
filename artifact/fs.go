package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/querychat/querychat/core"
)

// FSStore persists artifacts on the local filesystem under a per-thread
// directory. Data is written to a temp file and renamed into place so a
// partially written artifact is never observable at its final path.
//
// Layout:
//
//	<root>/<threadID>/<name>        file content
//	<root>/<threadID>/<name>.meta   artifact metadata (JSON)
type FSStore struct {
	mu    sync.Mutex
	root  string
	opts  Options
	nowFn func() time.Time
}

// NewFSStore creates a filesystem artifact store rooted at dir.
func NewFSStore(dir string, optFns ...func(o *Options)) (*FSStore, error) {
	opts := Options{DownloadPrefix: "/downloads"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}
	return &FSStore{
		root:  dir,
		opts:  opts,
		nowFn: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *FSStore) paths(threadID string, art core.Artifact) (dataPath, metaPath string) {
	dir := filepath.Join(s.root, sanitize(threadID))
	name := sanitize(art.Name)
	return filepath.Join(dir, name), filepath.Join(dir, name+".meta")
}

// sanitize strips path separators and parent references from names that end
// up as filesystem components.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}

// Publish writes data durably via temp-write plus rename. Re-publishing an
// artifact with the same name overwrites the previous copy, which is what a
// retried call with an id-derived name wants.
func (s *FSStore) Publish(_ context.Context, threadID string, art core.Artifact, data []byte) (core.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	dataPath, metaPath := s.paths(threadID, art)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return core.Artifact{}, fmt.Errorf("artifact: create thread dir: %w", err)
	}

	art.Location = dataPath
	art.DownloadRef = s.opts.DownloadPrefix + "/" + sanitize(art.Name)
	art.Created = now
	if s.opts.TTL > 0 {
		art.Expires = now.Add(s.opts.TTL)
	}

	if err := writeAtomic(dataPath, data, 0o644); err != nil {
		return core.Artifact{}, fmt.Errorf("artifact: write data: %w", err)
	}
	meta, err := json.Marshal(art)
	if err != nil {
		return core.Artifact{}, fmt.Errorf("artifact: marshal meta: %w", err)
	}
	if err := writeAtomic(metaPath, meta, 0o644); err != nil {
		return core.Artifact{}, fmt.Errorf("artifact: write meta: %w", err)
	}
	return art, nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Get retrieves a published artifact and its content by id.
func (s *FSStore) Get(ctx context.Context, threadID, artifactID string) ([]byte, core.Artifact, error) {
	arts, err := s.List(ctx, threadID)
	if err != nil {
		return nil, core.Artifact{}, err
	}
	for _, art := range arts {
		if art.ID != artifactID {
			continue
		}
		data, err := os.ReadFile(art.Location)
		if err != nil {
			return nil, core.Artifact{}, fmt.Errorf("artifact: read data: %w", err)
		}
		return data, art, nil
	}
	return nil, core.Artifact{}, notFound(threadID, artifactID)
}

// List returns the thread's artifacts by scanning metadata files.
func (s *FSStore) List(_ context.Context, threadID string) ([]core.Artifact, error) {
	dir := filepath.Join(s.root, sanitize(threadID))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	var arts []core.Artifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("artifact: read meta: %w", err)
		}
		var art core.Artifact
		if err := json.Unmarshal(raw, &art); err != nil {
			continue // skip corrupt metadata, the janitor reclaims it eventually
		}
		arts = append(arts, art)
	}
	return arts, nil
}

// Delete removes an artifact's content and metadata.
func (s *FSStore) Delete(ctx context.Context, threadID, artifactID string) error {
	arts, err := s.List(ctx, threadID)
	if err != nil {
		return err
	}
	for _, art := range arts {
		if art.ID != artifactID {
			continue
		}
		_, metaPath := s.paths(threadID, art)
		if err := os.Remove(art.Location); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("artifact: delete data: %w", err)
		}
		if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("artifact: delete meta: %w", err)
		}
		return nil
	}
	return nil
}

// Sweep removes expired artifacts across every thread directory.
func (s *FSStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("artifact: sweep: %w", err)
	}
	reclaimed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		threadID := e.Name()
		arts, err := s.List(ctx, threadID)
		if err != nil {
			return reclaimed, err
		}
		for _, art := range arts {
			if art.Expires.IsZero() || !art.Expired(now) {
				continue
			}
			if err := s.Delete(ctx, threadID, art.ID); err != nil {
				return reclaimed, err
			}
			reclaimed++
		}
	}
	return reclaimed, nil
}
