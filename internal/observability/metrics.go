package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"

	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeServer     = "server_error"
	OutcomeUnexpected = "unexpected"
	OutcomeTransport  = "transport"
	OutcomeMalformed  = "malformed"
)

var (
	registerOnce sync.Once

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posewire",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Pose-service RPC operations by request command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "posewire",
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Pose-service RPC round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command", "outcome"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posewire",
			Subsystem: "frame",
			Name:      "bytes_total",
			Help:      "Framed bytes moved over pose-service sessions, header included.",
		},
		[]string{"direction"},
	)
	stubRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posewire",
			Subsystem: "stub",
			Name:      "requests_total",
			Help:      "Requests handled by the stub pose server.",
		},
		[]string{"command", "status"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posewire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "posewire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(rpcRequests, rpcDuration, frameBytes, stubRequests, httpRequests, httpDuration)
	})
}

func RecordRPC(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	rpcRequests.WithLabelValues(command, outcome).Inc()
	rpcDuration.WithLabelValues(command, outcome).Observe(duration.Seconds())
}

func RecordFrameBytes(direction string, n int) {
	RegisterMetrics()
	frameBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordStubRequest(command, status string) {
	RegisterMetrics()
	stubRequests.WithLabelValues(command, status).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
