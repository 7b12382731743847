// Package metrics defines the Prometheus instrumentation exposed on the
// local admin surface: container pool occupancy, queue depth, turn
// latency and outcome, and knowledge-engine search latency. Metrics are
// package-level variables registered at init, in the usual client_golang
// style, and exposed for scraping via Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_queue_depth",
			Help: "Number of waiting queue entries by group",
		},
		[]string{"group"},
	)

	ContainersByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_containers",
			Help: "Number of containers in the warm pool by status",
		},
		[]string{"status"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Total container turns processed, by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_turn_duration_seconds",
			Help:    "Container turn duration in seconds, by tier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	KnowledgeSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_knowledge_search_duration_seconds",
			Help:    "Knowledge engine search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SelfHealSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_self_heal_sweeps_total",
			Help: "Total self-heal sweeps run by the health monitor, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		ContainersByStatus,
		TurnsTotal,
		TurnDuration,
		KnowledgeSearchDuration,
		SelfHealSweepsTotal,
	)
}

// Handler returns the HTTP handler serving the Prometheus text exposition
// format at whatever path the caller mounts it, conventionally /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and recording it to a
// histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}
