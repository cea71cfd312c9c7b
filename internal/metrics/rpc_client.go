package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forkscanner7000",
		Subsystem: "rpc_client",
		Name:      "operations_total",
		Help:      "Count of node RPC operations.",
	}, []string{"operation", "node", "status"})
	rpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forkscanner7000",
		Subsystem: "rpc_client",
		Name:      "operation_duration_seconds",
		Help:      "Duration of node RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "node", "status"})
)

// RPCClient tracks metrics for RPC calls to one bitcoin node.
type RPCClient struct {
	node string
}

// NewRPCClient constructs a metrics collector for RPC calls.
func NewRPCClient(node string) *RPCClient {
	if node == "" {
		node = "unknown"
	}
	return &RPCClient{node: node}
}

// Observe records a single RPC call outcome and duration.
func (m RPCClient) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	rpcRequestsTotal.WithLabelValues(operation, m.node, status).Inc()
	rpcRequestDuration.WithLabelValues(operation, m.node, status).Observe(time.Since(started).Seconds())
}
