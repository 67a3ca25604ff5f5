package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedHeader(payload []byte) http.Header {
	h := http.Header{}
	h.Set(StripeSignatureHeader, "t=1700000000,v1="+sign(payload, testWebhookSecret))
	return h
}

func testVerifier(t *testing.T) Verifier {
	t.Helper()
	v, err := NewStripeVerifier(NewConfig(map[string]string{SettingStripeWebhookSecret: testWebhookSecret}))
	require.NoError(t, err)
	return v
}

type fixture struct {
	db         *gorm.DB
	repo       Repository
	dispatcher *Dispatcher
	verifier   Verifier
	access     *recordingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedPlans(t, db)
	repo := NewRepository(db)
	access := &recordingInvalidator{}
	return &fixture{
		db:         db,
		repo:       repo,
		dispatcher: NewDispatcher(repo, WithAccessInvalidator(access)),
		verifier:   testVerifier(t),
		access:     access,
	}
}

func (f *fixture) deliver(t *testing.T, payload string) (*DispatchResult, error) {
	t.Helper()
	body := []byte(payload)
	return f.dispatcher.Dispatch(context.Background(), f.verifier, body, signedHeader(body))
}

func (f *fixture) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (f *fixture) subscription(t *testing.T, key string) *models.BillingSubscription {
	t.Helper()
	var sub models.BillingSubscription
	require.NoError(t, f.db.Where("subscription_key = ?", key).First(&sub).Error)
	return &sub
}

func (f *fixture) webhookEvent(t *testing.T, id string) *models.BillingWebhookEvent {
	t.Helper()
	var ev models.BillingWebhookEvent
	require.NoError(t, f.db.Where("provider = ? AND provider_event_id = ?", models.BillingProviderStripe, id).First(&ev).Error)
	return &ev
}

type recordingInvalidator struct {
	userIDs []uint
	err     error
}

func (r *recordingInvalidator) InvalidateAccessTier(_ context.Context, userID uint) error {
	r.userIDs = append(r.userIDs, userID)
	return r.err
}

func checkoutEvent(id string, userID uint, planID string, amount int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_%s",
			"object": "checkout.session",
			"customer": "cus_checkout_%d",
			"payment_intent": "pi_%s",
			"amount_total": %d,
			"currency": "usd",
			"metadata": {"user_id": "%d", "plan_id": %q}
		}}
	}`, id, id, userID, id, amount, userID, planID)
}

func subscriptionEvent(id, typ, subID, customer, status string, unitAmount int64, interval string, start, end int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"data": {"object": {
			"id": %q,
			"object": "subscription",
			"customer": %q,
			"status": %q,
			"current_period_start": %d,
			"current_period_end": %d,
			"items": {"object": "list", "data": [
				{"id": "si_1", "price": {"id": "price_%s", "unit_amount": %d, "recurring": {"interval": %q}}}
			]}
		}}
	}`, id, typ, subID, customer, status, start, end, interval, unitAmount, interval)
}

func invoiceEvent(id, typ, customer, subID string, amount int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"data": {"object": {
			"id": "in_%s",
			"object": "invoice",
			"customer": %q,
			"subscription": %q,
			"payment_intent": "pi_in_%s",
			"amount_paid": %d,
			"amount_due": %d,
			"currency": "usd"
		}}
	}`, id, typ, id, customer, subID, id, amount, amount)
}
