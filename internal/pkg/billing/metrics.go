package billing

import "time"

// Metrics collects billing counters. Use metrics.NewBillingMetrics for
// Prometheus; the zero value of NoopMetrics discards everything.
type Metrics interface {
	RecordWebhookEvent(provider, eventType, status string)
	RecordWebhookDuration(provider string, d time.Duration)
	RecordCheckout(provider, status string)
	RecordAPICall(provider, endpoint, status string)
}

type NoopMetrics struct{}

func (NoopMetrics) RecordWebhookEvent(string, string, string)   {}
func (NoopMetrics) RecordWebhookDuration(string, time.Duration) {}
func (NoopMetrics) RecordCheckout(string, string)               {}
func (NoopMetrics) RecordAPICall(string, string, string)        {}
