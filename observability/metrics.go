package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workflowMetricsOnce sync.Once
	workflowRegistry    *WorkflowMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// WorkflowMetrics tracks minting and append workflow progress.
type WorkflowMetrics struct {
	steps        *prometheus.CounterVec
	stepLatency  *prometheus.HistogramVec
	fanOutFailed *prometheus.CounterVec
	transactions *prometheus.CounterVec
	uploadBytes  *prometheus.CounterVec
}

// Workflow returns the lazily-initialised workflow metrics registry.
func Workflow() *WorkflowMetrics {
	workflowMetricsOnce.Do(func() {
		workflowRegistry = &WorkflowMetrics{
			steps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "parcelmint",
				Subsystem: "workflow",
				Name:      "steps_total",
				Help:      "Workflow steps segmented by workflow, step, and outcome (ok, error, skipped).",
			}, []string{"workflow", "step", "outcome"}),
			stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "parcelmint",
				Subsystem: "workflow",
				Name:      "step_duration_seconds",
				Help:      "Latency distribution for executed workflow steps.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			}, []string{"workflow", "step"}),
			fanOutFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "parcelmint",
				Subsystem: "workflow",
				Name:      "fanout_failures_total",
				Help:      "Failed branches of concurrent fan-out operations.",
			}, []string{"workflow", "step"}),
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "parcelmint",
				Subsystem: "chain",
				Name:      "transactions_total",
				Help:      "Chain transactions sent by workflows segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "parcelmint",
				Subsystem: "blobstore",
				Name:      "uploaded_bytes_total",
				Help:      "Bytes uploaded to content addressed storage.",
			}, []string{"store"}),
		}
		prometheus.MustRegister(
			workflowRegistry.steps,
			workflowRegistry.stepLatency,
			workflowRegistry.fanOutFailed,
			workflowRegistry.transactions,
			workflowRegistry.uploadBytes,
		)
	})
	return workflowRegistry
}

// ObserveStep records an executed step.
func (m *WorkflowMetrics) ObserveStep(workflow, step string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.steps.WithLabelValues(label(workflow), label(step), outcome).Inc()
	m.stepLatency.WithLabelValues(label(workflow), label(step)).Observe(duration.Seconds())
}

// RecordSkip records a step satisfied by the progress ledger.
func (m *WorkflowMetrics) RecordSkip(workflow, step string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(label(workflow), label(step), "skipped").Inc()
}

// RecordFanOutFailures adds the number of failed branches of a fan-out.
func (m *WorkflowMetrics) RecordFanOutFailures(workflow, step string, failed int) {
	if m == nil || failed <= 0 {
		return
	}
	m.fanOutFailed.WithLabelValues(label(workflow), label(step)).Add(float64(failed))
}

// RecordTransaction counts a mined chain transaction.
func (m *WorkflowMetrics) RecordTransaction(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.transactions.WithLabelValues(label(kind), outcome).Inc()
}

// RecordUpload adds uploaded payload bytes for a blob store.
func (m *WorkflowMetrics) RecordUpload(store string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.uploadBytes.WithLabelValues(label(store)).Add(float64(bytes))
}

// EscrowMetrics captures escrow service client activity.
type EscrowMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	throttle prometheus.Counter
}

// Escrow returns the singleton escrow client metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "parcelmint",
				Subsystem: "escrow",
				Name:      "requests_total",
				Help:      "Escrow API requests segmented by operation and HTTP status.",
			}, []string{"operation", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "parcelmint",
				Subsystem: "escrow",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for escrow API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttle: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "parcelmint",
				Subsystem: "escrow",
				Name:      "throttled_total",
				Help:      "Requests delayed by the client side rate limiter.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.requests,
			escrowRegistry.latency,
			escrowRegistry.throttle,
		)
	})
	return escrowRegistry
}

// Observe records an escrow request. A zero status means the request never
// produced an HTTP response.
func (m *EscrowMetrics) Observe(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := "transport_error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(label(operation), code).Inc()
	m.latency.WithLabelValues(label(operation)).Observe(duration.Seconds())
}

// RecordThrottle counts a request that had to wait for the limiter.
func (m *EscrowMetrics) RecordThrottle() {
	if m == nil {
		return
	}
	m.throttle.Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
