package builtin

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/tool"
)

// NewExportCSVTool builds the export_csv tool. It runs its own query rather
// than reusing a previous result so the export carries the full result set,
// not the truncated slice the model saw.
func NewExportCSVTool(q Querier) tool.Tool {
	return tool.NewFunctionTool(
		"export_csv",
		"Run a read-only SQL query and export the full result set as a CSV file. Returns the download reference.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The SQL query producing the data to export. Must be read-only.",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Short title used in the exported filename.",
				},
			},
			"required": []string{"query", "title"},
		},
		tool.EffectExternalWrite,
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			title, _ := args["title"].(string)

			rs, err := q.Query(toolCtx.Context(), query)
			if err != nil {
				return nil, fmt.Errorf("export query failed: %w", err)
			}

			data, err := encodeCSV(rs)
			if err != nil {
				return nil, fmt.Errorf("encode csv: %w", err)
			}

			name := fmt.Sprintf("%s_%s.csv", safeTitle(title), shortID(toolCtx.CallID()))
			art, err := toolCtx.PublishArtifact(core.ArtifactCSV, name, data)
			if err != nil {
				return nil, fmt.Errorf("publish csv: %w", err)
			}
			return fmt.Sprintf("CSV file created successfully: %s (Download: %s)", art.Name, art.DownloadRef), nil
		},
	)
}

func encodeCSV(rs *ResultSet) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(rs.Columns); err != nil {
		return nil, err
	}
	record := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i := range record {
			if i < len(row) && row[i] != nil {
				record[i] = fmt.Sprintf("%v", row[i])
			} else {
				record[i] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// safeTitle lowercases the title and collapses every run of characters that
// is not filename-safe into a single underscore, matching the naming users
// see in their download links.
func safeTitle(title string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "export"
	}
	return b.String()
}
