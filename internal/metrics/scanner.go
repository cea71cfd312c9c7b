package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forkscanner7000",
		Subsystem: "scanner",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one reconciliation tick.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"status"})
	pollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forkscanner7000",
		Subsystem: "scanner",
		Name:      "node_polls_total",
		Help:      "Per-node poll outcomes.",
	}, []string{"node", "outcome"})
	staleCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "forkscanner7000",
		Subsystem: "scanner",
		Name:      "live_stale_candidates",
		Help:      "Stale candidates inside the live window.",
	})
	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forkscanner7000",
		Subsystem: "scanner",
		Name:      "rollbacks_total",
		Help:      "Mirror rollback attempts.",
	}, []string{"outcome"})
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forkscanner7000",
		Subsystem: "scanner",
		Name:      "events_published_total",
		Help:      "Events published per topic.",
	}, []string{"topic"})
)

// Scanner aggregates tick-level scanner metrics.
type Scanner struct{}

// NewScanner constructs the scanner metrics collector.
func NewScanner() *Scanner { return &Scanner{} }

// ObserveTick records one reconciliation tick.
func (Scanner) ObserveTick(err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	tickDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// ObservePoll records one node poll outcome.
func (Scanner) ObservePoll(node string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	pollOutcomes.WithLabelValues(node, outcome).Inc()
}

// SetLiveStaleCandidates records the number of candidates in the live window.
func (Scanner) SetLiveStaleCandidates(n int) {
	staleCandidates.Set(float64(n))
}

// ObserveRollback records a mirror rollback attempt.
func (Scanner) ObserveRollback(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	rollbacksTotal.WithLabelValues(outcome).Inc()
}

// ObservePublish records an event published to a topic.
func (Scanner) ObservePublish(topic string) {
	eventsPublished.WithLabelValues(topic).Inc()
}
