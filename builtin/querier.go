// Package builtin provides the tool set the SQL agent ships with: query
// execution, schema description, data analysis, chart rendering, CSV export
// and PDF report generation. Every tool is read-only toward the database;
// file-producing tools are classified external-write and derive output names
// from their call id.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultSet is the normalized shape of a query response.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Querier abstracts the target database for the query tools.
type Querier interface {
	// Query runs a read-only statement and returns the full result set.
	Query(ctx context.Context, sql string) (*ResultSet, error)

	// Tables lists the queryable table names.
	Tables(ctx context.Context) ([]string, error)

	// Schema describes the named tables (columns and types) as text the
	// model can read. Unknown tables are reported inline, not as errors.
	Schema(ctx context.Context, tables []string) (string, error)

	// Dialect names the SQL dialect for prompt construction.
	Dialect() string
}

// ErrWriteStatement is returned when a statement is not provably read-only.
var ErrWriteStatement = fmt.Errorf("only read-only statements are allowed")

// readOnlyPrefixes are the statement heads the guard accepts.
var readOnlyPrefixes = []string{"select", "with", "show", "explain", "values", "table"}

// GuardReadOnly rejects statements that do not start with a read-only verb.
// It is a cheap first line of defense; the database role should also lack
// write grants.
func GuardReadOnly(sql string) error {
	head := strings.ToLower(strings.TrimSpace(sql))
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(head, p) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrWriteStatement, firstWord(head))
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t\n"); i > 0 {
		return s[:i]
	}
	return s
}

// PgQuerier implements Querier over a pgx connection pool.
type PgQuerier struct {
	pool    *pgxpool.Pool
	dialect string
}

// NewPgQuerier connects to PostgreSQL and verifies the connection.
func NewPgQuerier(ctx context.Context, dsn string) (*PgQuerier, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("builtin: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("builtin: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("builtin: ping: %w", err)
	}
	return &PgQuerier{pool: pool, dialect: "postgresql"}, nil
}

// NewPgQuerierFromPool wraps an existing pool.
func NewPgQuerierFromPool(pool *pgxpool.Pool) *PgQuerier {
	return &PgQuerier{pool: pool, dialect: "postgresql"}
}

// Close releases the connection pool.
func (q *PgQuerier) Close() {
	q.pool.Close()
}

// Dialect implements Querier.
func (q *PgQuerier) Dialect() string { return q.dialect }

// Query implements Querier with the read-only guard applied.
func (q *PgQuerier) Query(ctx context.Context, sql string) (*ResultSet, error) {
	if err := GuardReadOnly(sql); err != nil {
		return nil, err
	}
	rows, err := q.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, d := range descs {
		columns[i] = d.Name
	}

	rs := &ResultSet{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		copy(row, values)
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Tables implements Querier via information_schema.
func (q *PgQuerier) Tables(ctx context.Context) ([]string, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Schema implements Querier with a plain text rendering of column metadata.
func (q *PgQuerier) Schema(ctx context.Context, tables []string) (string, error) {
	var b strings.Builder
	for _, table := range tables {
		rows, err := q.pool.Query(ctx, `
			SELECT column_name, data_type, is_nullable
			FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1
			ORDER BY ordinal_position`, table)
		if err != nil {
			return "", err
		}
		var cols []string
		for rows.Next() {
			var name, dtype, nullable string
			if err := rows.Scan(&name, &dtype, &nullable); err != nil {
				rows.Close()
				return "", err
			}
			col := fmt.Sprintf("  %s %s", name, dtype)
			if nullable == "NO" {
				col += " not null"
			}
			cols = append(cols, col)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return "", err
		}
		if len(cols) == 0 {
			fmt.Fprintf(&b, "table %s: not found\n", table)
			continue
		}
		fmt.Fprintf(&b, "table %s:\n%s\n", table, strings.Join(cols, "\n"))
	}
	return b.String(), nil
}
