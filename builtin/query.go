package builtin

import (
	"fmt"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/tool"
)

// maxResultRows bounds the payload handed back to the model. Exports that
// need the full result set run their own query.
const maxResultRows = 200

// QueryPayload is the execute_sql result payload.
type QueryPayload struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// NewExecuteSQLTool builds the execute_sql tool over a Querier.
func NewExecuteSQLTool(q Querier) tool.Tool {
	return tool.NewFunctionTool(
		"execute_sql",
		"Run a read-only SQL query against the database and return the result rows. Use single quotes for string literals.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The SQL query to execute. Must be read-only.",
				},
			},
			"required": []string{"query"},
		},
		tool.EffectPure,
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			rs, err := q.Query(toolCtx.Context(), query)
			if err != nil {
				return nil, fmt.Errorf("query failed: %w", err)
			}
			payload := QueryPayload{Columns: rs.Columns, RowCount: len(rs.Rows)}
			rows := rs.Rows
			if len(rows) > maxResultRows {
				rows = rows[:maxResultRows]
				payload.Truncated = true
			}
			payload.Rows = rows
			return payload, nil
		},
	)
}

// NewDescribeTablesTool builds the describe_tables tool. It combines live
// schema metadata with configured column meanings, which matters for legacy
// databases whose column names mislead.
func NewDescribeTablesTool(q Querier, meanings map[string]string) tool.Tool {
	return tool.NewFunctionTool(
		"describe_tables",
		"Describe the named tables: columns, types and what each column actually means. Use before querying unfamiliar tables.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tables": map[string]any{
					"type":        "array",
					"description": "Table names to describe. Empty lists every table.",
					"items":       map[string]any{"type": "string"},
				},
			},
		},
		tool.EffectPure,
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			tables := stringSlice(args["tables"])
			if len(tables) == 0 {
				all, err := q.Tables(toolCtx.Context())
				if err != nil {
					return nil, fmt.Errorf("list tables: %w", err)
				}
				tables = all
			}
			schema, err := q.Schema(toolCtx.Context(), tables)
			if err != nil {
				return nil, fmt.Errorf("describe tables: %w", err)
			}
			out := map[string]any{"schema": schema}
			if len(meanings) > 0 {
				notes := map[string]string{}
				for _, t := range tables {
					if m, ok := meanings[t]; ok {
						notes[t] = m
					}
				}
				if len(notes) > 0 {
					out["column_meanings"] = notes
				}
			}
			return out, nil
		},
	)
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
