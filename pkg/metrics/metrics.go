package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StorageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fairground", Name: "storage_operations_total", Help: "Storage operations by backend and operation."},
		[]string{"backend", "op"},
	)
	StorageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fairground", Name: "storage_failures_total", Help: "Backend failures swallowed by the storage layer."},
		[]string{"backend", "op"},
	)
	StorageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "fairground", Name: "storage_operation_seconds", Help: "Storage operation latency.", Buckets: prometheus.DefBuckets},
		[]string{"backend", "op"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fairground", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fairground", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(StorageOperations, StorageFailures, StorageLatency)
	reg.MustRegister(RateLimitAllowed, RateLimitRejected)
}
