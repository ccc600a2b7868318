package builtin

import (
	"bytes"
	"fmt"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/tool"
)

// ChartSpec is the normalized chart description shared by the chart tool and
// the report generator.
type ChartSpec struct {
	Type   string
	Title  string
	XLabel string
	YLabel string
	Labels []string
	Values []float64
}

// NewCreateChartTool builds the create_chart tool. The rendered PNG is
// published as an artifact whose name is derived from the call id, so a
// retried call overwrites its own file.
func NewCreateChartTool() tool.Tool {
	return tool.NewFunctionTool(
		"create_chart",
		"Render a chart image (PNG) from labels and values and return its download reference.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"chart_type": map[string]any{
					"type":        "string",
					"description": "Kind of chart to render.",
					"enum":        []string{"bar", "line", "pie"},
				},
				"data": map[string]any{
					"type":        "object",
					"description": "Chart data: labels + values (or x_labels + y_values), optional title, x_label, y_label.",
				},
			},
			"required": []string{"chart_type", "data"},
		},
		tool.EffectExternalWrite,
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			chartType, _ := args["chart_type"].(string)
			data, _ := args["data"].(map[string]any)

			spec, err := ParseChartSpec(chartType, data)
			if err != nil {
				return nil, err
			}
			png, err := RenderChartPNG(spec)
			if err != nil {
				return nil, fmt.Errorf("render chart: %w", err)
			}

			name := fmt.Sprintf("chart_%s.png", shortID(toolCtx.CallID()))
			art, err := toolCtx.PublishArtifact(core.ArtifactChart, name, png)
			if err != nil {
				return nil, fmt.Errorf("publish chart: %w", err)
			}
			return fmt.Sprintf("Chart image created successfully: %s (Download: %s)", art.Name, art.DownloadRef), nil
		},
	)
}

// ParseChartSpec normalizes the model-supplied chart data. Both the
// labels/values and x_labels/y_values spellings are accepted because models
// emit both.
func ParseChartSpec(chartType string, data map[string]any) (ChartSpec, error) {
	spec := ChartSpec{Type: chartType}
	if data == nil {
		return spec, fmt.Errorf("chart data is required")
	}
	spec.Title, _ = data["title"].(string)
	spec.XLabel, _ = data["x_label"].(string)
	spec.YLabel, _ = data["y_label"].(string)

	spec.Labels = labelSlice(data["labels"])
	if len(spec.Labels) == 0 {
		spec.Labels = labelSlice(data["x_labels"])
	}
	spec.Values = floatSlice(data["values"])
	if len(spec.Values) == 0 {
		spec.Values = floatSlice(data["y_values"])
	}

	if len(spec.Values) == 0 {
		return spec, fmt.Errorf("chart data needs a non-empty 'values' (or 'y_values') list")
	}
	if len(spec.Labels) == 0 {
		return spec, fmt.Errorf("chart data needs a non-empty 'labels' (or 'x_labels') list")
	}
	if len(spec.Labels) != len(spec.Values) {
		return spec, fmt.Errorf("labels (%d) and values (%d) must have the same length",
			len(spec.Labels), len(spec.Values))
	}
	return spec, nil
}

// RenderChartPNG renders the spec to a PNG image.
func RenderChartPNG(spec ChartSpec) ([]byte, error) {
	var buf bytes.Buffer
	switch spec.Type {
	case "bar":
		bars := make([]chart.Value, len(spec.Values))
		for i, v := range spec.Values {
			bars[i] = chart.Value{Value: v, Label: spec.Labels[i]}
		}
		bc := chart.BarChart{
			Title:    spec.Title,
			Width:    1024,
			Height:   640,
			BarWidth: 50,
			Bars:     bars,
			XAxis:    chart.Style{TextRotationDegrees: 45},
		}
		if err := bc.Render(chart.PNG, &buf); err != nil {
			return nil, err
		}
	case "line":
		xs := make([]float64, len(spec.Values))
		for i := range xs {
			xs[i] = float64(i)
		}
		labels := spec.Labels
		lc := chart.Chart{
			Title:  spec.Title,
			Width:  1024,
			Height: 640,
			XAxis: chart.XAxis{
				Name: spec.XLabel,
				ValueFormatter: func(v any) string {
					if f, ok := v.(float64); ok {
						i := int(f + 0.5)
						if i >= 0 && i < len(labels) {
							return labels[i]
						}
					}
					return ""
				},
			},
			YAxis: chart.YAxis{Name: spec.YLabel},
			Series: []chart.Series{
				chart.ContinuousSeries{XValues: xs, YValues: spec.Values},
			},
		}
		if err := lc.Render(chart.PNG, &buf); err != nil {
			return nil, err
		}
	case "pie":
		values := make([]chart.Value, len(spec.Values))
		for i, v := range spec.Values {
			values[i] = chart.Value{Value: v, Label: spec.Labels[i]}
		}
		pc := chart.PieChart{
			Title:  spec.Title,
			Width:  700,
			Height: 700,
			Values: values,
		}
		if err := pc.Render(chart.PNG, &buf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported chart type %q", spec.Type)
	}
	return buf.Bytes(), nil
}

// labelSlice accepts strings and numbers as axis labels; models emit both.
func labelSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch l := item.(type) {
			case string:
				out = append(out, l)
			case float64:
				out = append(out, fmt.Sprintf("%g", l))
			default:
				out = append(out, fmt.Sprintf("%v", l))
			}
		}
		return out
	default:
		return nil
	}
}

func floatSlice(v any) []float64 {
	items, ok := v.([]any)
	if !ok {
		if fs, ok := v.([]float64); ok {
			return fs
		}
		return nil
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		case int64:
			out = append(out, float64(n))
		}
	}
	return out
}

// shortID trims an id to the 8-character prefix used in generated filenames.
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "00000000"
	}
	return id
}
