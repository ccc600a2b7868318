package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querychat/querychat/core"
)

func TestInMemoryStore_OrderPreserved(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := core.NewUserMessage(fmt.Sprintf("message %d", i))
		require.NoError(t, store.Append(ctx, "thread-1", msg))
	}

	history, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, msg := range history {
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Text)
	}
}

func TestInMemoryStore_UnknownThreadIsEmpty(t *testing.T) {
	store := NewInMemoryStore()
	history, err := store.Load(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInMemoryStore_ThreadsIsolated(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "a", core.NewUserMessage("for a")))
	require.NoError(t, store.Append(ctx, "b", core.NewUserMessage("for b")))

	a, err := store.Load(ctx, "a")
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "for a", a[0].Text)

	b, err := store.Load(ctx, "b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "for b", b[0].Text)
}

func TestInMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "t", core.NewUserMessage("original")))

	history, err := store.Load(ctx, "t")
	require.NoError(t, err)
	history[0].Text = "mutated"

	again, err := store.Load(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Text)
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	const writers = 8
	const perWriter = 25
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = store.Append(ctx, "shared", core.NewUserMessage(fmt.Sprintf("w%d-%d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	history, err := store.Load(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, writers*perWriter)
}

func TestInMemoryStore_ThreadsSortedByActivity(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "old", core.NewUserMessage("first")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.Append(ctx, "new", core.NewUserMessage("second")))
	require.NoError(t, store.Append(ctx, "new", core.NewUserMessage("third")))

	threads, err := store.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "new", threads[0].ID)
}
