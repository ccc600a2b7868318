package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querychat/querychat/core"
)

func TestInMemoryStore_PublishAndGet(t *testing.T) {
	store := NewInMemoryStore(func(o *Options) { o.TTL = time.Hour })
	ctx := context.Background()

	art := core.Artifact{ID: "call-1", Kind: core.ArtifactChart, Name: "chart_call-1.png"}
	published, err := store.Publish(ctx, "thread-1", art, []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/downloads/chart_call-1.png", published.DownloadRef)
	assert.False(t, published.Created.IsZero())
	assert.False(t, published.Expires.IsZero())

	data, got, err := store.Get(ctx, "thread-1", "call-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, published.Name, got.Name)
}

func TestInMemoryStore_RepublishOverwrites(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	art := core.Artifact{ID: "call-1", Kind: core.ArtifactCSV, Name: "export_call-1.csv"}

	_, err := store.Publish(ctx, "t", art, []byte("first"))
	require.NoError(t, err)
	_, err = store.Publish(ctx, "t", art, []byte("second"))
	require.NoError(t, err)

	data, _, err := store.Get(ctx, "t", "call-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	arts, err := store.List(ctx, "t")
	require.NoError(t, err)
	assert.Len(t, arts, 1, "retried publish must not duplicate")
}

func TestInMemoryStore_GetUnknown(t *testing.T) {
	store := NewInMemoryStore()
	_, _, err := store.Get(context.Background(), "t", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_SweepReclaimsExpired(t *testing.T) {
	store := NewInMemoryStore(func(o *Options) { o.TTL = time.Minute })
	ctx := context.Background()

	_, err := store.Publish(ctx, "t", core.Artifact{ID: "a", Kind: core.ArtifactCSV, Name: "a.csv"}, []byte("x"))
	require.NoError(t, err)

	reclaimed, err := store.Sweep(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	_, _, err = store.Get(ctx, "t", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_PublishIsDurableAndListed(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir, func(o *Options) { o.TTL = time.Hour })
	require.NoError(t, err)
	ctx := context.Background()

	art := core.Artifact{ID: "call-9", Kind: core.ArtifactPDF, Name: "report_call-9.pdf"}
	published, err := store.Publish(ctx, "thread-1", art, []byte("%PDF-1.7"))
	require.NoError(t, err)

	content, err := os.ReadFile(published.Location)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), content)

	arts, err := store.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "call-9", arts[0].ID)

	data, got, err := store.Get(ctx, "thread-1", "call-9")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)
	assert.Equal(t, core.ArtifactPDF, got.Kind)
}

func TestFSStore_SanitizesNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	require.NoError(t, err)

	art := core.Artifact{ID: "c", Kind: core.ArtifactCSV, Name: "../../etc/passwd"}
	published, err := store.Publish(context.Background(), "t", art, []byte("data"))
	require.NoError(t, err)

	rel, err := filepath.Rel(dir, published.Location)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(rel))
	assert.NotContains(t, rel, "..")
}

func TestFSStore_DeleteAndSweep(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir, func(o *Options) { o.TTL = time.Millisecond })
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Publish(ctx, "t", core.Artifact{ID: "a", Kind: core.ArtifactChart, Name: "a.png"}, []byte("x"))
	require.NoError(t, err)

	reclaimed, err := store.Sweep(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	arts, err := store.List(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestJanitor_StopsOnCancel(t *testing.T) {
	store := NewInMemoryStore(func(o *Options) { o.TTL = time.Millisecond })
	j := NewJanitor(store, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	_, err := store.Publish(ctx, "t", core.Artifact{ID: "a", Kind: core.ArtifactCSV, Name: "a.csv"}, []byte("x"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		arts, err := store.List(context.Background(), "t")
		return err == nil && len(arts) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on cancel")
	}
}
