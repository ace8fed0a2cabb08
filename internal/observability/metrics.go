// Package observability wires the kernel's runtime and chat engine to
// Prometheus, the way haasonsaas-nexus's own observability package wires
// its gateway: promauto-registered counters and histograms behind a
// small struct, exposed over HTTP via promhttp.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the kernel's Prometheus instrumentation.
type Metrics struct {
	// TurnCounter counts turns by outcome (completed|error).
	TurnCounter *prometheus.CounterVec

	// RoundDuration measures one model round's wall-clock time in seconds.
	RoundDuration prometheus.Histogram

	// ToolCallCounter counts tool invocations by outcome (success|error).
	ToolCallCounter *prometheus.CounterVec

	// LedgerAppendCounter counts context ledger writes by event_type.
	LedgerAppendCounter *prometheus.CounterVec
}

// NewMetrics registers and returns the kernel's metric set against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finger_kernel_turns_total",
			Help: "Turns processed, labeled by outcome.",
		}, []string{"outcome"}),

		RoundDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finger_kernel_model_round_duration_seconds",
			Help:    "Wall-clock time of one model round.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		ToolCallCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finger_kernel_tool_calls_total",
			Help: "Tool calls executed, labeled by tool_name and outcome.",
		}, []string{"tool_name", "outcome"}),

		LedgerAppendCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finger_kernel_ledger_appends_total",
			Help: "Context ledger entries written, labeled by event_type.",
		}, []string{"event_type"}),
	}
}
