package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	repoRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forkscanner7000",
		Subsystem: "repository",
		Name:      "operations_total",
		Help:      "Count of store operations.",
	}, []string{"operation", "status"})
	repoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forkscanner7000",
		Subsystem: "repository",
		Name:      "operation_duration_seconds",
		Help:      "Duration of store operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// Repository tracks metrics for store operations.
type Repository struct{}

// NewRepository constructs the repository metrics collector.
func NewRepository() *Repository { return &Repository{} }

// Observe records a single store operation outcome and duration.
func (Repository) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	repoRequestsTotal.WithLabelValues(operation, status).Inc()
	repoRequestDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}
