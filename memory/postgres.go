package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querychat/querychat/core"
)

// PostgresStore persists conversations in PostgreSQL. Messages are stored as
// JSON rows keyed by (thread_id, seq); the sequence column is assigned inside
// the append transaction so per-thread ordering survives concurrent writers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL, verifies the connection and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("memory: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory: ping: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool, ensuring the schema exists.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_messages (
			thread_id  TEXT        NOT NULL,
			seq        BIGINT      NOT NULL,
			message    JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (thread_id, seq)
		)`)
	if err != nil {
		return fmt.Errorf("memory: ensure schema: %w", err)
	}
	return nil
}

// Load returns the full ordered history of a thread. Unknown threads yield
// an empty slice.
func (s *PostgresStore) Load(ctx context.Context, threadID string) ([]core.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message FROM chat_messages WHERE thread_id = $1 ORDER BY seq`,
		threadID)
	if err != nil {
		return nil, core.NewStorageError("load", threadID, err)
	}
	defer rows.Close()

	messages := []core.Message{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, core.NewStorageError("load", threadID, err)
		}
		var msg core.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, core.NewStorageError("load", threadID, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("load", threadID, err)
	}
	return messages, nil
}

// Append adds one message to the end of the thread's history. The next
// sequence number is computed and inserted in a single statement; the unique
// key rejects the losing writer of a race, which pgx surfaces as an error
// the caller's retry policy handles.
func (s *PostgresStore) Append(ctx context.Context, threadID string, msg core.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return core.NewStorageError("append", threadID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_messages (thread_id, seq, message)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2
		FROM chat_messages WHERE thread_id = $1`,
		threadID, payload)
	if err != nil {
		return core.NewStorageError("append", threadID, err)
	}
	return nil
}

// Threads implements core.ThreadLister, newest activity first.
func (s *PostgresStore) Threads(ctx context.Context) ([]core.Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT thread_id, MIN(created_at), MAX(created_at)
		FROM chat_messages GROUP BY thread_id ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, core.NewStorageError("threads", "", err)
	}
	defer rows.Close()

	var threads []core.Thread
	for rows.Next() {
		var th core.Thread
		if err := rows.Scan(&th.ID, &th.Created, &th.LastActive); err != nil {
			return nil, core.NewStorageError("threads", "", err)
		}
		threads = append(threads, th)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("threads", "", err)
	}
	return threads, nil
}
