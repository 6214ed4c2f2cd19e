// Package telemetry holds Prometheus collectors for the checkout pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds business-level collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Checkout funnel
	CheckoutSubmissions *prometheus.CounterVec
	OrderValue          prometheus.Histogram

	// Discounts
	DiscountValidations  *prometheus.CounterVec
	DiscountReservations *prometheus.CounterVec

	// Orders
	OrderTransitions *prometheus.CounterVec

	// Gateway
	GatewayCalls   *prometheus.CounterVec
	GatewayLatency *prometheus.HistogramVec

	// Fulfillment
	Fulfillments  *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Downloads     *prometheus.CounterVec

	// Background
	SweepActions *prometheus.CounterVec
}

// NewMetrics creates and registers collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "digistore"
	}
	factory := promauto.With(reg)

	return &Metrics{
		CheckoutSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "checkout",
				Name:      "submissions_total",
				Help:      "Checkout submissions by outcome",
			},
			[]string{"outcome"},
		),
		OrderValue: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "checkout",
				Name:      "order_total",
				Help:      "Order totals in currency units",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50, 100, 500},
			},
		),
		DiscountValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discount",
				Name:      "validations_total",
				Help:      "Discount code validations by result",
			},
			[]string{"result"},
		),
		DiscountReservations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discount",
				Name:      "reservations_total",
				Help:      "Discount code reservations by outcome",
			},
			[]string{"outcome"},
		),
		OrderTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "order",
				Name:      "transitions_total",
				Help:      "Order transition attempts by target status and whether state changed",
			},
			[]string{"status", "changed"},
		),
		GatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Payment gateway calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		GatewayLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Payment gateway call latency",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"operation"},
		),
		Fulfillments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fulfillment",
				Name:      "dispatches_total",
				Help:      "Fulfillment dispatches by outcome",
			},
			[]string{"outcome"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fulfillment",
				Name:      "notifications_total",
				Help:      "Order confirmation notifications by outcome",
			},
			[]string{"outcome"},
		),
		Downloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "download",
				Name:      "authorizations_total",
				Help:      "Download authorizations by outcome",
			},
			[]string{"outcome"},
		),
		SweepActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "actions_total",
				Help:      "Background sweep actions by kind",
			},
			[]string{"action"},
		),
	}
}

// RecordCheckout counts a checkout submission.
func (m *Metrics) RecordCheckout(outcome string) {
	if m == nil {
		return
	}
	m.CheckoutSubmissions.WithLabelValues(outcome).Inc()
}

// RecordOrderValue observes a created order's total.
func (m *Metrics) RecordOrderValue(total decimal.Decimal) {
	if m == nil {
		return
	}
	m.OrderValue.Observe(total.InexactFloat64())
}

// RecordDiscountValidation counts a discount validation result.
func (m *Metrics) RecordDiscountValidation(result string) {
	if m == nil {
		return
	}
	m.DiscountValidations.WithLabelValues(result).Inc()
}

// RecordReservation counts a reservation outcome.
func (m *Metrics) RecordReservation(outcome string) {
	if m == nil {
		return
	}
	m.DiscountReservations.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a transition attempt.
func (m *Metrics) RecordTransition(status string, changed bool) {
	if m == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.OrderTransitions.WithLabelValues(status, label).Inc()
}

// RecordGatewayCall counts a gateway call and observes its latency.
func (m *Metrics) RecordGatewayCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(operation, outcome).Inc()
	m.GatewayLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordFulfillment counts a fulfillment dispatch.
func (m *Metrics) RecordFulfillment(outcome string) {
	if m == nil {
		return
	}
	m.Fulfillments.WithLabelValues(outcome).Inc()
}

// RecordNotification counts a notification attempt.
func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

// RecordDownload counts a download authorization.
func (m *Metrics) RecordDownload(outcome string) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(outcome).Inc()
}

// RecordSweep counts a sweeper action.
func (m *Metrics) RecordSweep(action string) {
	if m == nil {
		return
	}
	m.SweepActions.WithLabelValues(action).Inc()
}
