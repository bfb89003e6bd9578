package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kernelctl"

// Rejection reasons for inbound frames.
const (
	RejectFormat      = "format"
	RejectAuth        = "auth"
	RejectSchema      = "schema"
	RejectUnsupported = "unsupported"
)

var (
	registerOnce sync.Once

	wireMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "received_total",
			Help:      "Decoded inbound messages per channel and type.",
		},
		[]string{"channel", "msg_type"},
	)
	wireRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "rejected_total",
			Help:      "Inbound messages dropped before dispatch.",
		},
		[]string{"channel", "reason"},
	)
	wireSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "sent_total",
			Help:      "Outbound messages written per channel.",
		},
		[]string{"channel"},
	)
	iopubDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "iopub",
			Name:      "dropped_total",
			Help:      "IOPub messages dropped because the outbox was full.",
		},
	)
	heartbeatEchoes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "echoes_total",
			Help:      "Heartbeat payloads echoed.",
		},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "total",
			Help:      "Execute requests served by reply status.",
		},
		[]string{"status"},
	)
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Engine execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	commsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "comm",
			Name:      "open",
			Help:      "Currently open comms.",
		},
	)
	commErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comm",
			Name:      "errors_total",
			Help:      "Comm operations that failed.",
		},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"kernel", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kernel", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			wireMessages, wireRejections, wireSent,
			iopubDropped, heartbeatEchoes,
			executions, executionDuration,
			commsOpen, commErrors,
			httpRequests, httpDuration,
		)
	})
}

func RecordWireMessage(channel, msgType string) {
	RegisterMetrics()
	wireMessages.WithLabelValues(channel, msgType).Inc()
}

func RecordWireRejection(channel, reason string) {
	RegisterMetrics()
	wireRejections.WithLabelValues(channel, reason).Inc()
}

func RecordWireSent(channel string) {
	RegisterMetrics()
	wireSent.WithLabelValues(channel).Inc()
}

func RecordIOPubDrop() {
	RegisterMetrics()
	iopubDropped.Inc()
}

func RecordHeartbeatEcho() {
	RegisterMetrics()
	heartbeatEchoes.Inc()
}

func RecordExecution(status string, duration time.Duration) {
	RegisterMetrics()
	executions.WithLabelValues(status).Inc()
	executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func SetOpenComms(n int) {
	RegisterMetrics()
	commsOpen.Set(float64(n))
}

func RecordCommError(kind string) {
	RegisterMetrics()
	commErrors.WithLabelValues(kind).Inc()
}

func RecordHTTPRequest(kernel, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(kernel, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(kernel, method, path, statusLabel).Observe(duration.Seconds())
}
