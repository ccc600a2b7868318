package builtin

import (
	"bytes"
	"fmt"

	"github.com/unidoc/unipdf/v3/creator"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/tool"
)

// NewCreateReportTool builds the create_report tool: a PDF composed of
// ordered sections (text, table, chart, spacer, page_break) described by the
// model. Charts inside reports reuse the standalone chart renderer.
func NewCreateReportTool() tool.Tool {
	return tool.NewFunctionTool(
		"create_report",
		"Generate a PDF report from ordered sections: text (normal/heading/subheading), tables, charts, spacers and page breaks. Returns the download reference.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Base name for the report file, without extension.",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Report title shown on the first page.",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Short description rendered under the title.",
				},
				"sections": map[string]any{
					"type":        "array",
					"description": "Ordered report sections. Each has a 'type' of text, table, chart, spacer or page_break.",
					"items":       map[string]any{"type": "object"},
				},
			},
			"required": []string{"filename", "sections"},
		},
		tool.EffectExternalWrite,
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			filename, _ := args["filename"].(string)
			title, _ := args["title"].(string)
			description, _ := args["description"].(string)
			sections, _ := args["sections"].([]any)

			data, err := buildReport(title, description, sections)
			if err != nil {
				return nil, err
			}

			name := fmt.Sprintf("%s_%s.pdf", safeTitle(filename), shortID(toolCtx.CallID()))
			art, err := toolCtx.PublishArtifact(core.ArtifactPDF, name, data)
			if err != nil {
				return nil, fmt.Errorf("publish report: %w", err)
			}
			return fmt.Sprintf("PDF report created successfully: %s (Download: %s)", art.Name, art.DownloadRef), nil
		},
	)
}

func buildReport(title, description string, sections []any) ([]byte, error) {
	c := creator.New()
	c.SetPageMargins(50, 50, 50, 50)

	if title != "" {
		p := c.NewParagraph(title)
		p.SetFontSize(22)
		p.SetMargins(0, 0, 0, 8)
		if err := c.Draw(p); err != nil {
			return nil, fmt.Errorf("draw title: %w", err)
		}
	}
	if description != "" {
		p := c.NewParagraph(description)
		p.SetFontSize(11)
		p.SetMargins(0, 0, 0, 16)
		if err := c.Draw(p); err != nil {
			return nil, fmt.Errorf("draw description: %w", err)
		}
	}

	for i, raw := range sections {
		section, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("section %d: expected an object", i)
		}
		kind, _ := section["type"].(string)
		var err error
		switch kind {
		case "text":
			err = drawText(c, section)
		case "table":
			err = drawTable(c, section)
		case "chart":
			err = drawChart(c, section)
		case "spacer":
			height, _ := section["height"].(float64)
			if height <= 0 {
				height = 12
			}
			sp := c.NewParagraph(" ")
			sp.SetMargins(0, 0, 0, height)
			err = c.Draw(sp)
		case "page_break":
			c.NewPage()
		default:
			err = fmt.Errorf("unknown section type %q", kind)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if err := c.Write(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func drawText(c *creator.Creator, section map[string]any) error {
	content, _ := section["content"].(string)
	style, _ := section["style"].(string)
	p := c.NewParagraph(content)
	switch style {
	case "heading":
		p.SetFontSize(18)
		p.SetMargins(0, 0, 8, 6)
	case "subheading":
		p.SetFontSize(14)
		p.SetMargins(0, 0, 6, 4)
	default:
		p.SetFontSize(11)
		p.SetMargins(0, 0, 2, 4)
	}
	return c.Draw(p)
}

func drawTable(c *creator.Creator, section map[string]any) error {
	headers := labelSlice(section["headers"])
	rows, _ := section["data"].([]any)
	if len(headers) == 0 {
		return fmt.Errorf("table section needs non-empty 'headers'")
	}

	if title, ok := section["title"].(string); ok && title != "" {
		p := c.NewParagraph(title)
		p.SetFontSize(13)
		p.SetMargins(0, 0, 8, 4)
		if err := c.Draw(p); err != nil {
			return err
		}
	}

	table := c.NewTable(len(headers))
	table.SetMargins(0, 0, 4, 10)
	for _, h := range headers {
		cell := table.NewCell()
		cell.SetBorder(creator.CellBorderSideAll, creator.CellBorderStyleSingle, 1)
		p := c.NewParagraph(h)
		p.SetFontSize(10)
		if err := cell.SetContent(p); err != nil {
			return err
		}
	}
	for _, rawRow := range rows {
		values := cellValues(rawRow, headers)
		for _, v := range values {
			cell := table.NewCell()
			cell.SetBorder(creator.CellBorderSideAll, creator.CellBorderStyleSingle, 1)
			p := c.NewParagraph(v)
			p.SetFontSize(10)
			if err := cell.SetContent(p); err != nil {
				return err
			}
		}
	}
	return c.Draw(table)
}

// cellValues renders one table row whether the model sent it as an object
// keyed by header or as a positional array.
func cellValues(rawRow any, headers []string) []string {
	out := make([]string, len(headers))
	switch row := rawRow.(type) {
	case map[string]any:
		for i, h := range headers {
			if v, ok := row[h]; ok && v != nil {
				out[i] = fmt.Sprintf("%v", v)
			}
		}
	case []any:
		for i := range headers {
			if i < len(row) && row[i] != nil {
				out[i] = fmt.Sprintf("%v", row[i])
			}
		}
	}
	return out
}

func drawChart(c *creator.Creator, section map[string]any) error {
	chartType, _ := section["chart_type"].(string)
	data, _ := section["data"].(map[string]any)
	spec, err := ParseChartSpec(chartType, data)
	if err != nil {
		return err
	}
	png, err := RenderChartPNG(spec)
	if err != nil {
		return err
	}
	img, err := c.NewImageFromData(png)
	if err != nil {
		return fmt.Errorf("embed chart: %w", err)
	}
	img.ScaleToWidth(460)
	img.SetMargins(0, 0, 6, 10)
	return c.Draw(img)
}
