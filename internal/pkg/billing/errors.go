package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature rejects a webhook before any state change.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload marks a verified body that is not a usable event envelope.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	ErrNotFound       = errors.New("billing: not found")
	ErrPlanNotFound   = errors.New("plan not found")
	ErrInvalidPlan    = errors.New("invalid plan")
	// ErrConfiguration is returned when a required setting is missing.
	ErrConfiguration = errors.New("billing configuration error")
	ErrProvider      = errors.New("payment provider error")
	// ErrReconciliation wraps any failure while applying an event's effect.
	ErrReconciliation = errors.New("reconciliation failed")
)

// ProviderError describes a failed outbound call to a payment provider.
// Reason is the provider's own error message and never contains credentials.
type ProviderError struct {
	Provider   string
	StatusCode int
	Reason     string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status=%d reason=%s", e.Provider, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

func missingSetting(key string) error {
	return fmt.Errorf("%w: %s is not configured", ErrConfiguration, key)
}
