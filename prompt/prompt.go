// Package prompt renders the system instructions handed to the model at the
// start of every reasoning step. The template is parameterized over the SQL
// dialect, the visible tables and the current date so the same agent serves
// any database.
package prompt

import (
	"time"

	"github.com/querychat/querychat/internal/util"
)

// DefaultTemplate is the built-in system prompt. Deployments with unusual
// schemas override it via Builder options and typically append schema notes
// explaining misleading column names.
const DefaultTemplate = `You are a helpful AI assistant with access to a {{.Dialect}} database. You must ALWAYS query the database to get accurate, real-time information, never guess or make up answers.

Available tables: {{join ", " .Tables}}

Current date: {{.Date}}

RULES FOR DATABASE QUERIES:
1. Only provide conversational responses after you have the actual data from the database.
2. ALWAYS use single quotes for string literals in SQL queries, never double quotes.
3. Use the describe_tables tool to learn what each column represents before writing queries against unfamiliar tables.
4. Never issue DML statements (INSERT, UPDATE, DELETE, DROP). The database is read-only.
5. ALWAYS use dates in yyyy-mm-dd format.
{{if .SchemaNotes}}
SCHEMA NOTES:
{{.SchemaNotes}}
{{end}}
When the user asks for a chart, a CSV export or a PDF report, use the matching tool and include the returned download reference in your answer. Never invent a download reference yourself.`

// Data carries the template parameters.
type Data struct {
	Dialect     string
	Tables      []string
	Date        string
	SchemaNotes string
}

// Builder renders system instructions from a template.
type Builder struct {
	template string
	notes    string
	nowFn    func() time.Time
}

// BuilderOptions configure a Builder.
type BuilderOptions struct {
	// Template overrides DefaultTemplate.
	Template string

	// SchemaNotes are appended verbatim for deployments whose column names
	// need explanation.
	SchemaNotes string
}

// NewBuilder creates a Builder with the default template.
func NewBuilder(optFns ...func(o *BuilderOptions)) *Builder {
	opts := BuilderOptions{Template: DefaultTemplate}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{
		template: opts.Template,
		notes:    opts.SchemaNotes,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Build renders the system instructions for the given dialect and tables.
// The current date is injected so relative questions ("this month") resolve
// correctly.
func (b *Builder) Build(dialect string, tables []string) (string, error) {
	return util.RenderTemplate(b.template, map[string]any{
		"Dialect":     dialect,
		"Tables":      tables,
		"Date":        b.nowFn().Format("2006-01-02"),
		"SchemaNotes": b.notes,
	})
}
