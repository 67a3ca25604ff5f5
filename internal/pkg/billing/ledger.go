package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chloecircle/chloecircle/app/models"
)

// Ledger is the durable record of every provider event we have seen.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a ledger on top of repo.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// RecordSeen stores the event payload. A redelivery overwrites payload and
// type but never the processed flag.
func (l *Ledger) RecordSeen(ctx context.Context, provider, eventID, eventType string, raw []byte) error {
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(eventID) == "" {
		return errors.New("provider and event id are required")
	}
	return l.repo.UpsertWebhookEvent(ctx, &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(raw),
	})
}

// IsAlreadyProcessed reports whether reconciliation for the event completed.
func (l *Ledger) IsAlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	return l.repo.IsWebhookProcessed(ctx, provider, eventID)
}

// MarkProcessed flips the processed flag and stamps processed_at.
func (l *Ledger) MarkProcessed(ctx context.Context, provider, eventID string) error {
	return l.repo.MarkWebhookProcessed(ctx, provider, eventID, l.now().UTC())
}

// MarkFailed keeps the event unprocessed and stores the failure for operators.
func (l *Ledger) MarkFailed(ctx context.Context, provider, eventID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.repo.MarkWebhookFailed(ctx, provider, eventID, msg)
}
