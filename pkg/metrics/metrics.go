package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder collects dispatch metrics. A nil *Recorder is valid and records
// nothing, so components can take one optionally.
type Recorder struct {
	registry     *prometheus.Registry
	turns        *prometheus.CounterVec
	categories   *prometheus.CounterVec
	nodeVisits   *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_turns_total",
				Help: "Total number of dispatched turns by outcome",
			},
			[]string{"outcome"},
		),
		categories: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_category_total",
				Help: "Classified categories",
			},
			[]string{"category"},
		),
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_node_visits_total",
				Help: "Total number of state machine node visits",
			},
			[]string{"node"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_tool_duration_seconds",
				Help:    "Duration of tool executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool", "success"},
		),
	}
	r.registry.MustRegister(r.turns, r.categories, r.nodeVisits, r.toolDuration)
	return r
}

// Turn records the outcome of a finished turn ("ok" or "error").
func (r *Recorder) Turn(outcome string) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(outcome).Inc()
}

// Category records a classification result.
func (r *Recorder) Category(category string) {
	if r == nil {
		return
	}
	r.categories.WithLabelValues(category).Inc()
}

// NodeVisit records one state machine step.
func (r *Recorder) NodeVisit(node string) {
	if r == nil {
		return
	}
	r.nodeVisits.WithLabelValues(node).Inc()
}

// ToolDuration records how long a tool execution took.
func (r *Recorder) ToolDuration(tool string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	r.toolDuration.WithLabelValues(tool, label).Observe(d.Seconds())
}

// Registry exposes the underlying registry, e.g. for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
