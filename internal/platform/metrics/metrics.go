package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	EventsProcessed prometheus.Counter
	EventsSkipped   *prometheus.CounterVec
	EventFailures   *prometheus.CounterVec
	StitchOutcomes  *prometheus.CounterVec
	StitchRetries   prometheus.Counter
	PlacementsSent  *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stitchd_events_processed_total",
			Help: "Total number of event records whose outcome was resolved",
		}),
		EventsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchd_events_skipped_total",
			Help: "Events skipped before stitching, by reason",
		}, []string{"reason"}),
		EventFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchd_event_failures_total",
			Help: "Per-event failures reported to the error sink, by stage",
		}, []string{"stage"}),
		StitchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchd_stitch_outcomes_total",
			Help: "Identity stitch decisions, by matcher outcome",
		}, []string{"outcome"}),
		StitchRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stitchd_stitch_retries_total",
			Help: "Stitch attempts retried after a transient store conflict",
		}),
		PlacementsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchd_placements_sent_total",
			Help: "Placement publishes to the global registry, by result",
		}, []string{"result"}),
	}
}
