// Package metrics exposes Prometheus collectors for the billing pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chloecircle/chloecircle/internal/pkg/billing"
)

// BillingMetrics implements billing.Metrics using Prometheus.
type BillingMetrics struct {
	webhookEventsTotal *prometheus.CounterVec
	webhookDuration    *prometheus.HistogramVec
	checkoutsTotal     *prometheus.CounterVec
	apiCallsTotal      *prometheus.CounterVec
}

var _ billing.Metrics = (*BillingMetrics)(nil)

// NewBillingMetrics registers the billing collectors on reg.
func NewBillingMetrics(reg prometheus.Registerer, namespace string) *BillingMetrics {
	factory := promauto.With(reg)

	return &BillingMetrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by provider, event type and outcome.",
		}, []string{"provider", "event_type", "status"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "Time spent verifying and reconciling a webhook delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		checkoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by provider and result.",
		}, []string{"provider", "status"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Outbound payment provider API calls.",
		}, []string{"provider", "endpoint", "status"}),
	}
}

func (m *BillingMetrics) RecordWebhookEvent(provider, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *BillingMetrics) RecordWebhookDuration(provider string, d time.Duration) {
	m.webhookDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *BillingMetrics) RecordCheckout(provider, status string) {
	m.checkoutsTotal.WithLabelValues(provider, status).Inc()
}

func (m *BillingMetrics) RecordAPICall(provider, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(provider, endpoint, status).Inc()
}
