package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// DispatchStatus is the acknowledged outcome of a webhook delivery.
type DispatchStatus string

const (
	StatusProcessed DispatchStatus = "processed"
	StatusDuplicate DispatchStatus = "duplicate"
	StatusIgnored   DispatchStatus = "ignored"
)

// Severity classifies a failed dispatch step.
type Severity int

const (
	SeverityNone Severity = iota
	// SeveritySoft is logged and never blocks the acknowledgement.
	SeveritySoft
	// SeverityHard aborts the delivery with a server error.
	SeverityHard
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeveritySoft:
		return "soft"
	case SeverityHard:
		return "hard"
	}
	return "unknown"
}

// StepResult records the outcome of one bookkeeping or reconciliation step.
type StepResult struct {
	Step     string
	Severity Severity
	Err      error
}

// DispatchResult is returned for every delivery that got past verification.
type DispatchResult struct {
	Provider  string
	EventID   string
	EventType string
	Status    DispatchStatus
	Steps     []StepResult
}

// SoftFailures returns the steps that failed without aborting the delivery.
func (r *DispatchResult) SoftFailures() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Severity == SeveritySoft {
			out = append(out, s)
		}
	}
	return out
}

func (r *DispatchResult) step(name string, sev Severity, err error) {
	if err == nil {
		sev = SeverityNone
	}
	r.Steps = append(r.Steps, StepResult{Step: name, Severity: sev, Err: err})
}

// AccessInvalidator drops cached access state for a user.
type AccessInvalidator interface {
	InvalidateAccessTier(ctx context.Context, userID uint) error
}

// Dispatcher runs a webhook delivery through
// verify -> dedup check -> record -> reconcile -> mark processed.
type Dispatcher struct {
	ledger     *Ledger
	reconciler *Reconciler
	access     AccessInvalidator
	metrics    Metrics
}

// DispatcherOption configures optional collaborators.
type DispatcherOption func(*Dispatcher)

func WithAccessInvalidator(a AccessInvalidator) DispatcherOption {
	return func(d *Dispatcher) { d.access = a }
}

func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher wires the ledger and reconciler around repo.
func NewDispatcher(repo Repository, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ledger:     NewLedger(repo),
		reconciler: NewReconciler(repo, NewResolver(repo, nil)),
		metrics:    NoopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch processes one delivery. A nil result with an error means the
// delivery was rejected before the ledger was touched (bad signature, bad
// payload or missing configuration). A non-nil result with an error means a
// hard failure after verification; the event stays unprocessed.
func (d *Dispatcher) Dispatch(ctx context.Context, v Verifier, payload []byte, header http.Header) (*DispatchResult, error) {
	started := time.Now()
	provider := v.Provider()
	defer func() { d.metrics.RecordWebhookDuration(provider, time.Since(started)) }()

	ev, err := v.Verify(ctx, payload, header)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			d.metrics.RecordWebhookEvent(provider, "", "invalid_signature")
		case errors.Is(err, ErrInvalidPayload):
			d.metrics.RecordWebhookEvent(provider, "", "invalid_payload")
		default:
			d.metrics.RecordWebhookEvent(provider, "", "error")
		}
		return nil, err
	}

	res := &DispatchResult{Provider: ev.Provider, EventID: ev.ID, EventType: ev.Type}

	processed, err := d.ledger.IsAlreadyProcessed(ctx, ev.Provider, ev.ID)
	res.step("ledger.is_processed", SeverityHard, err)
	if err != nil {
		d.metrics.RecordWebhookEvent(provider, ev.Type, "error")
		return res, fmt.Errorf("dedup check for event %s: %w", ev.ID, err)
	}
	if processed {
		res.Status = StatusDuplicate
		d.metrics.RecordWebhookEvent(provider, ev.Type, string(StatusDuplicate))
		return res, nil
	}

	res.step("ledger.record_seen", SeveritySoft, d.ledger.RecordSeen(ctx, ev.Provider, ev.ID, ev.Type, ev.Raw))

	outcome, err := d.reconciler.Apply(ctx, ev)
	if err != nil {
		res.step("reconcile", SeverityHard, err)
		res.step("ledger.mark_failed", SeveritySoft, d.ledger.MarkFailed(ctx, ev.Provider, ev.ID, err))
		d.metrics.RecordWebhookEvent(provider, ev.Type, "failed")
		return res, fmt.Errorf("%w: event %s (%s): %w", ErrReconciliation, ev.ID, ev.Type, err)
	}
	res.step("reconcile", SeverityNone, nil)

	if d.access != nil {
		for _, uid := range outcome.UserIDs {
			res.step(fmt.Sprintf("access.invalidate[%d]", uid), SeveritySoft, d.access.InvalidateAccessTier(ctx, uid))
		}
	}

	res.step("ledger.mark_processed", SeveritySoft, d.ledger.MarkProcessed(ctx, ev.Provider, ev.ID))

	res.Status = StatusProcessed
	if outcome.Ignored {
		res.Status = StatusIgnored
	}
	for _, s := range res.SoftFailures() {
		log.Warnf("[Webhook] %s event %s: %s failed: %v", ev.Provider, ev.ID, s.Step, s.Err)
	}
	d.metrics.RecordWebhookEvent(provider, ev.Type, string(res.Status))
	return res, nil
}
