package builtin

import (
	"github.com/querychat/querychat/tool"
)

// RegistryOptions configure RegisterAll.
type RegistryOptions struct {
	// ColumnMeanings documents legacy column names per table; surfaced by
	// describe_tables alongside live schema metadata.
	ColumnMeanings map[string]string
}

// RegisterAll registers the full builtin tool set against a querier. The
// registry is left unfrozen so callers can add custom tools before sealing.
func RegisterAll(r *tool.Registry, q Querier, optFns ...func(o *RegistryOptions)) error {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	tools := []tool.Tool{
		NewExecuteSQLTool(q),
		NewDescribeTablesTool(q, opts.ColumnMeanings),
		NewAnalyzeDataTool(),
		NewCreateChartTool(),
		NewExportCSVTool(q),
		NewCreateReportTool(),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
