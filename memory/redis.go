package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/querychat/querychat/core"
)

// RedisStore persists conversations in Redis lists, one list per thread.
// RPUSH is atomic so same-thread appends keep their arrival order without
// extra locking.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreOptions configure a RedisStore.
type RedisStoreOptions struct {
	// KeyPrefix namespaces the thread lists. Default "querychat:thread:".
	KeyPrefix string
}

// NewRedisStore wraps a Redis client as a conversation store.
func NewRedisStore(client *redis.Client, optFns ...func(o *RedisStoreOptions)) *RedisStore {
	opts := RedisStoreOptions{KeyPrefix: "querychat:thread:"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, keyPrefix: opts.KeyPrefix}
}

func (s *RedisStore) key(threadID string) string {
	return s.keyPrefix + threadID
}

// Load returns the full ordered history of a thread. Unknown threads yield
// an empty slice.
func (s *RedisStore) Load(ctx context.Context, threadID string) ([]core.Message, error) {
	raw, err := s.client.LRange(ctx, s.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, core.NewStorageError("load", threadID, err)
	}
	messages := make([]core.Message, 0, len(raw))
	for _, item := range raw {
		var msg core.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, core.NewStorageError("load", threadID, fmt.Errorf("corrupt message: %w", err))
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Append adds one message to the end of the thread's list.
func (s *RedisStore) Append(ctx context.Context, threadID string, msg core.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return core.NewStorageError("append", threadID, err)
	}
	if err := s.client.RPush(ctx, s.key(threadID), payload).Err(); err != nil {
		return core.NewStorageError("append", threadID, err)
	}
	return nil
}
