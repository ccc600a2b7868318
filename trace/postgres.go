package trace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querychat/querychat/core"
)

// PostgresStore persists traces in a PostgreSQL table mirroring the Trace
// shape, with tool call requests stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the traces table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("trace: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("trace: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("trace: ping: %w", err)
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
		CREATE TABLE IF NOT EXISTS traces (
			id             BIGSERIAL PRIMARY KEY,
			thread_id      TEXT        NOT NULL,
			type           TEXT        NOT NULL,
			msg_id         TEXT,
			content        TEXT,
			tool_call      JSONB,
			tool_name      TEXT,
			tool_call_id   TEXT,
			run_start_time TIMESTAMPTZ NOT NULL,
			run_end_time   TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("trace: ensure schema: %w", err)
	}
	return nil
}

// Add implements Store.
func (s *PostgresStore) Add(ctx context.Context, traces []Trace) error {
	for _, tr := range traces {
		var callJSON []byte
		if tr.ToolCall != nil {
			var err error
			callJSON, err = json.Marshal(tr.ToolCall)
			if err != nil {
				return fmt.Errorf("trace: marshal tool call: %w", err)
			}
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO traces (thread_id, type, msg_id, content, tool_call, tool_name, tool_call_id, run_start_time, run_end_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			tr.ThreadID, tr.Type, tr.MsgID, nullable(tr.Content), callJSON,
			nullable(tr.ToolName), nullable(tr.ToolCallID), tr.RunStartTime, tr.RunEndTime)
		if err != nil {
			return fmt.Errorf("trace: insert: %w", err)
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ByThread implements Store.
func (s *PostgresStore) ByThread(ctx context.Context, threadID string) ([]Trace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT thread_id, type, COALESCE(msg_id, ''), COALESCE(content, ''), tool_call,
		       COALESCE(tool_name, ''), COALESCE(tool_call_id, ''), run_start_time, run_end_time
		FROM traces WHERE thread_id = $1 ORDER BY id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("trace: query: %w", err)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var tr Trace
		var callJSON []byte
		if err := rows.Scan(&tr.ThreadID, &tr.Type, &tr.MsgID, &tr.Content, &callJSON,
			&tr.ToolName, &tr.ToolCallID, &tr.RunStartTime, &tr.RunEndTime); err != nil {
			return nil, fmt.Errorf("trace: scan: %w", err)
		}
		if len(callJSON) > 0 {
			var call core.ToolCall
			if err := json.Unmarshal(callJSON, &call); err == nil {
				tr.ToolCall = &call
			}
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}
