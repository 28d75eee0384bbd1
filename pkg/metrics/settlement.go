package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "medilink"

// Operation labels.
const (
	OperationSettle   = "settle"
	OperationPurchase = "purchase"
)

// SettlementMetrics records outcomes of settlement and purchase attempts and
// the outbox publisher. A nil receiver is a no-op.
type SettlementMetrics struct {
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	allocated *prometheus.CounterVec
	published *prometheus.CounterVec
}

// NewSettlementMetrics registers the collectors on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_attempts_total",
		Help:      "Settlement and purchase attempts by outcome reason.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Duration of settlement and purchase attempts in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	allocated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_units_allocated_total",
		Help:      "Stock units decremented by committed operations.",
	}, []string{"operation"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_publish_total",
		Help:      "Outbox publish results.",
	}, []string{"result"})
	reg.MustRegister(attempts, duration, allocated, published)
	return &SettlementMetrics{
		attempts:  attempts,
		duration:  duration,
		allocated: allocated,
		published: published,
	}
}

// ObserveAttempt records one attempt with its outcome and elapsed time.
func (m *SettlementMetrics) ObserveAttempt(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	op := normalizeLabel(operation)
	m.attempts.WithLabelValues(op, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AddAllocated adds committed stock units for the operation.
func (m *SettlementMetrics) AddAllocated(operation string, units int) {
	if m == nil || m.allocated == nil || units <= 0 {
		return
	}
	m.allocated.WithLabelValues(normalizeLabel(operation)).Add(float64(units))
}

// IncPublish counts one outbox publish result such as "published" or "failed".
func (m *SettlementMetrics) IncPublish(result string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
