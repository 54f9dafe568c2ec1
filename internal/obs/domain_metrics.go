package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DiscountMetrics groups collectors describing discount evaluation and redemption.
type DiscountMetrics struct {
	Evaluations  *prometheus.CounterVec
	Applied      *prometheus.CounterVec
	Redemptions  *prometheus.CounterVec
	EvalDuration prometheus.Histogram
}

var (
	domainOnce    sync.Once
	domainMetrics *DiscountMetrics
)

// NewDiscountMetrics registers discount collectors on reg (the default registerer when nil).
func NewDiscountMetrics(namespace string, reg prometheus.Registerer) *DiscountMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &DiscountMetrics{
		Evaluations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_evaluations_total",
			Help:      "Count of discount calculations by outcome.",
		}, []string{"operation", "result"})),
		Applied: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_applied_total",
			Help:      "Count of discounts applied by type and scope.",
		}, []string{"type", "scope"})),
		Redemptions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_redemptions_total",
			Help:      "Count of redemption recordings by outcome.",
		}, []string{"result"})),
		EvalDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discount_evaluation_duration_ms",
			Help:      "Latency of discount calculations in milliseconds, rule loading included.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		})),
	}
}

// MustRegisterDomainMetrics initialises the process wide discount collectors once.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) *DiscountMetrics {
	domainOnce.Do(func() {
		domainMetrics = NewDiscountMetrics(namespace, reg)
	})
	return domainMetrics
}

// ObserveEvaluation records the outcome of one calculation. Safe on a nil receiver.
func (m *DiscountMetrics) ObserveEvaluation(operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(operation, result).Inc()
	m.EvalDuration.Observe(durationMs)
}

// ObserveApplied counts an applied discount. Safe on a nil receiver.
func (m *DiscountMetrics) ObserveApplied(discountType, scope string) {
	if m == nil {
		return
	}
	m.Applied.WithLabelValues(discountType, scope).Inc()
}

// ObserveRedemption counts a redemption outcome. Safe on a nil receiver.
func (m *DiscountMetrics) ObserveRedemption(result string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(result).Inc()
}
