package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricTransitionsTotal   = "payment_transitions_total"
	MetricRefundedCentsTotal = "payment_refunded_cents_total"
	MetricGatewayErrorsTotal = "payment_gateway_errors_total"
)

// Metrics contains Prometheus metrics for payment lifecycle operations.
// All operations are thread-safe. A nil *Metrics is valid and records
// nothing, so tests can construct a Service without a registry.
type Metrics struct {
	transitions   *prometheus.CounterVec
	refundedCents prometheus.Counter
	gatewayErrors *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTransitionsTotal,
				Help: "Total number of payment status transitions by from/to status",
			},
			[]string{"from", "to"},
		),
		refundedCents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRefundedCentsTotal,
				Help: "Total refunded amount in cents",
			},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGatewayErrorsTotal,
				Help: "Total number of gateway call failures by operation and retryability",
			},
			[]string{"op", "retryable"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.transitions, m.refundedCents, m.gatewayErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) observeRefund(amountCents int64) {
	if m == nil {
		return
	}
	m.refundedCents.Add(float64(amountCents))
}

func (m *Metrics) observeGatewayError(op string, retryable bool) {
	if m == nil {
		return
	}
	label := "false"
	if retryable {
		label = "true"
	}
	m.gatewayErrors.WithLabelValues(op, label).Inc()
}
