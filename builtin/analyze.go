package builtin

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/tool"
)

// NewAnalyzeDataTool builds the analyze_data tool: lightweight summaries and
// descriptive statistics over rows the model already fetched, so it does not
// have to do arithmetic in text.
func NewAnalyzeDataTool() tool.Tool {
	return tool.NewFunctionTool(
		"analyze_data",
		"Analyze tabular data. 'summary' reports record count and columns; 'stats' adds min/max/mean/stddev for numeric columns.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"data": map[string]any{
					"type":        "string",
					"description": "JSON array of objects, one per row.",
				},
				"analysis_type": map[string]any{
					"type":        "string",
					"description": "Kind of analysis to perform.",
					"enum":        []string{"summary", "stats"},
				},
			},
			"required": []string{"data"},
		},
		tool.EffectPure,
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			raw, _ := args["data"].(string)
			analysisType, _ := args["analysis_type"].(string)
			if analysisType == "" {
				analysisType = "summary"
			}

			var rows []map[string]any
			if err := json.Unmarshal([]byte(raw), &rows); err != nil {
				return nil, fmt.Errorf("data must be a JSON array of objects: %w", err)
			}
			if len(rows) == 0 {
				return "No data available for analysis.", nil
			}

			columns := collectColumns(rows)
			switch analysisType {
			case "summary":
				return fmt.Sprintf("Data Summary:\n- Total records: %d\n- Columns: %s",
					len(rows), strings.Join(columns, ", ")), nil
			case "stats":
				return describeNumeric(rows, columns), nil
			default:
				return nil, fmt.Errorf("unknown analysis_type %q", analysisType)
			}
		},
	)
}

func collectColumns(rows []map[string]any) []string {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

func describeNumeric(rows []map[string]any, columns []string) string {
	var b strings.Builder
	b.WriteString("Statistical Summary:\n")
	found := false
	for _, col := range columns {
		values := numericValues(rows, col)
		if len(values) == 0 {
			continue
		}
		found = true
		min, max, mean := values[0], values[0], 0.0
		for _, v := range values {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			mean += v
		}
		mean /= float64(len(values))
		variance := 0.0
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		stddev := math.Sqrt(variance / float64(len(values)))
		fmt.Fprintf(&b, "- %s: count=%d min=%g max=%g mean=%g stddev=%g\n",
			col, len(values), min, max, mean, stddev)
	}
	if !found {
		return "No numeric columns found for statistical analysis."
	}
	return strings.TrimRight(b.String(), "\n")
}

func numericValues(rows []map[string]any, col string) []float64 {
	var values []float64
	for _, row := range rows {
		switch v := row[col].(type) {
		case float64:
			values = append(values, v)
		case int:
			values = append(values, float64(v))
		case int64:
			values = append(values, float64(v))
		case json.Number:
			if f, err := v.Float64(); err == nil {
				values = append(values, f)
			}
		}
	}
	return values
}
