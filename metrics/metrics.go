// Package metrics exposes Prometheus collectors for the agent loop and its
// tools. Everything is registered on a package-level registry so the HTTP
// handler and the instrumented code share one view.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry holds every querychat collector.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TurnDuration, TurnTotal,
		StepsPerTurn, ToolDuration, ToolTotal,
		ArtifactsCreated, StorageRetries,
	)
}

// TurnDuration measures wall time per conversational turn.
var TurnDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "querychat_turn_duration_seconds",
		Help:    "Wall time per conversational turn.",
		Buckets: prometheus.DefBuckets,
	},
)

// TurnTotal counts finished turns by outcome.
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "querychat_turn_total",
		Help: "Finished turns by outcome.",
	},
	[]string{"outcome"}, // answered | failed | step_limit | canceled
)

// StepsPerTurn observes how many reasoning steps each turn consumed.
var StepsPerTurn = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "querychat_steps_per_turn",
		Help:    "Reasoning steps consumed per turn.",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
	},
)

// ToolDuration measures tool invocation time by tool name.
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "querychat_tool_duration_seconds",
		Help:    "Tool invocation time.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolTotal counts tool invocations by tool name and result status.
var ToolTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "querychat_tool_total",
		Help: "Tool invocations by status.",
	},
	[]string{"tool", "status"}, // success | failure | timeout
)

// ArtifactsCreated counts published artifacts by kind.
var ArtifactsCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "querychat_artifacts_created_total",
		Help: "Published artifacts by kind.",
	},
	[]string{"kind"}, // chart | csv | pdf
)

// StorageRetries counts conversation store append retries.
var StorageRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "querychat_storage_retries_total",
		Help: "Conversation store append retries.",
	},
)

// WritePrometheus writes the registry's state in text exposition format.
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
