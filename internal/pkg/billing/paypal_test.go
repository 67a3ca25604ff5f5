package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/testutil"
	"github.com/plutov/paypal/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paypalStub struct {
	url          string
	httpClient   *http.Client
	verification string
	tokenCalls   int
	bodies       map[string]map[string]interface{}
	requestIDs   []string
}

func newPayPalStub(t *testing.T) (*paypalStub, *PayPalClient) {
	t.Helper()
	stub := &paypalStub{verification: "SUCCESS", bodies: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/oauth2/token" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client-id" || pass != "client-secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
				return
			}
			stub.tokenCalls++
			_, _ = w.Write([]byte(`{"access_token":"A21AA","token_type":"Bearer","expires_in":32400}`))
			return
		}

		if r.Header.Get("Authorization") != "Bearer A21AA" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		stub.requestIDs = append(stub.requestIDs, r.Header.Get("PayPal-Request-Id"))
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		stub.bodies[r.URL.Path] = body

		switch r.URL.Path {
		case "/v2/checkout/orders":
			_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED","links":[{"href":"https://paypal.test/self","rel":"self"},{"href":"https://paypal.test/approve/ORDER-1","rel":"approve"}]}`))
		case "/v1/billing/subscriptions":
			_, _ = w.Write([]byte(`{"id":"I-SUB1","status":"APPROVAL_PENDING","links":[{"href":"https://paypal.test/approve/I-SUB1","rel":"approve"}]}`))
		case "/v2/checkout/orders/ORDER-1/capture":
			_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED"}`))
		case "/v1/notifications/verify-webhook-signature":
			_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": stub.verification})
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed."}`))
		}
	}))
	t.Cleanup(srv.Close)
	stub.url, stub.httpClient = srv.URL, srv.Client()

	return stub, stub.client(t, "client-secret")
}

func (s *paypalStub) client(t *testing.T, secret string) *PayPalClient {
	t.Helper()
	c, err := newPayPalClient("client-id", secret, s.url, s.httpClient, nil)
	require.NoError(t, err)
	c.WebhookID = "WH-1"
	c.PlanMonthly = "P-MONTHLY"
	c.PlanYearly = "P-YEARLY"
	return c
}

func paypalHeaders() http.Header {
	h := http.Header{}
	h.Set(PayPalHeaderTransmissionID, "tx-1")
	h.Set(PayPalHeaderTransmissionTime, "2026-10-01T10:00:00Z")
	h.Set(PayPalHeaderTransmissionSig, "sig")
	h.Set(PayPalHeaderCertURL, "https://api.paypal.com/cert.pem")
	h.Set(PayPalHeaderAuthAlgo, "SHA256withRSA")
	return h
}

func TestNewPayPalClient(t *testing.T) {
	_, err := NewPayPalClient(NewConfig(map[string]string{SettingPayPalClientID: "id"}), nil, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	c, err := NewPayPalClient(NewConfig(map[string]string{
		SettingPayPalClientID:     "id",
		SettingPayPalClientSecret: "secret",
	}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, paypal.APIBaseSandBox, c.api.APIBase)

	c, err = NewPayPalClient(NewConfig(map[string]string{
		SettingPayPalClientID:     "id",
		SettingPayPalClientSecret: "secret",
		SettingPayPalMode:         "LIVE",
	}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, paypal.APIBaseLive, c.api.APIBase)
}

func TestPayPalClient_CreateSession(t *testing.T) {
	user := &models.User{ID: 42}

	t.Run("lifetime creates an order", func(t *testing.T) {
		stub, c := newPayPalStub(t)
		session, err := c.CreateSession(context.Background(), SessionRequest{
			User:       user,
			Plan:       &models.SubscriptionPlan{ID: "lifetime-plan", Name: "Lifetime", BillingCycle: models.BillingCycleLifetime},
			UnitAmount: 9999,
			Currency:   "usd",
			SuccessURL: "https://s",
			CancelURL:  "https://c",
		})
		require.NoError(t, err)
		assert.Equal(t, "ORDER-1", session.ID)
		assert.Equal(t, "https://paypal.test/approve/ORDER-1", session.URL)

		body := stub.bodies["/v2/checkout/orders"]
		assert.Equal(t, "CAPTURE", body["intent"])
		unit := body["purchase_units"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "42:lifetime-plan", unit["custom_id"])
		amount := unit["amount"].(map[string]interface{})
		assert.Equal(t, "99.99", amount["value"])
		assert.Equal(t, "USD", amount["currency_code"])
		require.Len(t, stub.requestIDs, 1)
		assert.NotEmpty(t, stub.requestIDs[0])
	})

	t.Run("recurring creates a subscription", func(t *testing.T) {
		stub, c := newPayPalStub(t)
		session, err := c.CreateSession(context.Background(), SessionRequest{
			User:       user,
			Plan:       &models.SubscriptionPlan{ID: "yearly-plan", Name: "Yearly", BillingCycle: models.BillingCycleYearly},
			UnitAmount: 19999,
			Currency:   "usd",
		})
		require.NoError(t, err)
		assert.Equal(t, "I-SUB1", session.ID)

		body := stub.bodies["/v1/billing/subscriptions"]
		assert.Equal(t, "P-YEARLY", body["plan_id"])
		assert.Equal(t, "42:yearly-plan", body["custom_id"])
	})

	t.Run("recurring without plan id", func(t *testing.T) {
		stub, c := newPayPalStub(t)
		c.PlanMonthly = ""
		_, err := c.CreateSession(context.Background(), SessionRequest{
			User: user,
			Plan: &models.SubscriptionPlan{ID: "monthly-plan", BillingCycle: models.BillingCycleMonthly},
		})
		require.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), SettingPayPalPlanMonthly)
		assert.Zero(t, stub.tokenCalls)
	})

	t.Run("bad credentials", func(t *testing.T) {
		stub, _ := newPayPalStub(t)
		c := stub.client(t, "wrong")
		_, err := c.CreateSession(context.Background(), SessionRequest{
			User: user,
			Plan: &models.SubscriptionPlan{ID: "lifetime-plan", BillingCycle: models.BillingCycleLifetime},
		})
		require.ErrorIs(t, err, ErrProvider)
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
		assert.Equal(t, http.StatusText(http.StatusUnauthorized), pe.Reason)
		assert.NotContains(t, err.Error(), "wrong")
		assert.Zero(t, stub.tokenCalls)
	})
}

func TestPayPalClient_CaptureOrder(t *testing.T) {
	_, c := newPayPalStub(t)
	status, err := c.CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", status)

	_, err = c.CaptureOrder(context.Background(), "ORDER-404")
	require.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "UNPROCESSABLE_ENTITY")

	_, err = c.CaptureOrder(context.Background(), " ")
	assert.Error(t, err)
}

type apiCallRecorder struct {
	NoopMetrics
	calls []string
}

func (r *apiCallRecorder) RecordAPICall(provider, endpoint, status string) {
	r.calls = append(r.calls, provider+" "+endpoint+" "+status)
}

func TestPayPalClient_RecordsAPICalls(t *testing.T) {
	stub, _ := newPayPalStub(t)
	rec := &apiCallRecorder{}
	c, err := newPayPalClient("client-id", "client-secret", stub.url, stub.httpClient, rec)
	require.NoError(t, err)

	_, err = c.CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	_, err = c.CaptureOrder(context.Background(), "ORDER-404")
	require.Error(t, err)

	assert.Equal(t, []string{
		"paypal /v1/oauth2/token success",
		"paypal /v2/checkout/orders/ORDER-1/capture success",
		"paypal /v2/checkout/orders/ORDER-404/capture error",
	}, rec.calls)
	assert.Equal(t, 1, stub.tokenCalls)
	require.Len(t, stub.requestIDs, 2)
	assert.NotEqual(t, stub.requestIDs[0], stub.requestIDs[1])
}

func TestPayPalClient_VerifyWebhook(t *testing.T) {
	payload := []byte(`{"id":"WH-EVT-1","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{}}`)

	t.Run("success", func(t *testing.T) {
		stub, c := newPayPalStub(t)
		require.NoError(t, c.VerifyWebhook(context.Background(), payload, paypalHeaders()))
		body := stub.bodies["/v1/notifications/verify-webhook-signature"]
		assert.Equal(t, "WH-1", body["webhook_id"])
		assert.Equal(t, "tx-1", body["transmission_id"])
		assert.Equal(t, "WH-EVT-1", body["webhook_event"].(map[string]interface{})["id"])
	})

	t.Run("failure status", func(t *testing.T) {
		stub, c := newPayPalStub(t)
		stub.verification = "FAILURE"
		assert.ErrorIs(t, c.VerifyWebhook(context.Background(), payload, paypalHeaders()), ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		stub, c := newPayPalStub(t)
		h := paypalHeaders()
		h.Del(PayPalHeaderTransmissionSig)
		assert.ErrorIs(t, c.VerifyWebhook(context.Background(), payload, h), ErrInvalidSignature)
		assert.Zero(t, stub.tokenCalls)
	})

	t.Run("no webhook id", func(t *testing.T) {
		_, c := newPayPalStub(t)
		c.WebhookID = ""
		assert.ErrorIs(t, c.VerifyWebhook(context.Background(), payload, paypalHeaders()), ErrConfiguration)
	})
}

func TestDecodePayPalEvent(t *testing.T) {
	t.Run("capture completed", func(t *testing.T) {
		ev, err := decodePayPalEvent([]byte(`{
			"id": "WH-CAP",
			"event_type": "PAYMENT.CAPTURE.COMPLETED",
			"resource": {
				"id": "CAP-1",
				"amount": {"currency_code": "USD", "value": "99.99"},
				"custom_id": "42:lifetime-plan",
				"supplementary_data": {"related_ids": {"order_id": "ORDER-1"}}
			}
		}`))
		require.NoError(t, err)
		assert.Equal(t, EventCheckoutCompleted, ev.Kind)
		co := ev.Checkout
		assert.Equal(t, "ORDER-1", co.SessionID)
		assert.Equal(t, "CAP-1", co.PaymentIntentID)
		assert.Equal(t, uint(42), co.UserID)
		assert.Equal(t, "lifetime-plan", co.PlanID)
		assert.Equal(t, "usd", co.Currency)
		assert.Equal(t, "99.99", co.Amount.StringFixed(2))
	})

	t.Run("subscription activated", func(t *testing.T) {
		ev, err := decodePayPalEvent([]byte(`{
			"id": "WH-SUB",
			"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
			"resource": {
				"id": "I-SUB1",
				"plan_id": "P-MONTHLY",
				"status": "ACTIVE",
				"custom_id": "7:monthly-plan",
				"start_time": "2026-10-01T00:00:00Z",
				"subscriber": {"payer_id": "PAYER7"},
				"billing_info": {"next_billing_time": "2026-11-01T00:00:00Z"}
			}
		}`))
		require.NoError(t, err)
		sc := ev.Subscription
		assert.Equal(t, EventSubscriptionUpserted, ev.Kind)
		assert.Equal(t, ProviderStatusActive, sc.Status)
		assert.Equal(t, "PAYER7", sc.CustomerID)
		assert.Equal(t, uint(7), sc.UserID)
		require.Len(t, sc.Items, 1)
		assert.Equal(t, "P-MONTHLY", sc.Items[0].PriceID)
		require.NotNil(t, sc.CurrentPeriodEnd)
		assert.Equal(t, "2026-11-01T00:00:00Z", sc.CurrentPeriodEnd.Format("2006-01-02T15:04:05Z07:00"))
	})

	t.Run("sale without amount", func(t *testing.T) {
		_, err := decodePayPalEvent([]byte(`{"id":"WH-SALE","event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"SALE-1"}}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("failed payment", func(t *testing.T) {
		ev, err := decodePayPalEvent([]byte(`{
			"id": "WH-FAIL",
			"event_type": "BILLING.SUBSCRIPTION.PAYMENT.FAILED",
			"resource": {"id": "I-SUB1", "status": "SUSPENDED",
				"billing_info": {"last_failed_payment": {"amount": {"currency_code": "USD", "value": "19.99"}}}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, EventPaymentFailed, ev.Kind)
		assert.Equal(t, "WH-FAIL", ev.Payment.ID)
		assert.Equal(t, "I-SUB1", ev.Payment.SubscriptionID)
		assert.Equal(t, "19.99", ev.Payment.Amount.StringFixed(2))
	})

	t.Run("unknown", func(t *testing.T) {
		ev, err := decodePayPalEvent([]byte(`{"id":"WH-X","event_type":"CUSTOMER.DISPUTE.CREATED"}`))
		require.NoError(t, err)
		assert.Equal(t, EventUnknown, ev.Kind)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := decodePayPalEvent([]byte(`{"event_type":"PAYMENT.SALE.COMPLETED"}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestPayPalHelpers(t *testing.T) {
	uid, plan := parsePayPalCustomID("42:lifetime-plan")
	assert.Equal(t, uint(42), uid)
	assert.Equal(t, "lifetime-plan", plan)

	uid, plan = parsePayPalCustomID("garbage")
	assert.Zero(t, uid)
	assert.Empty(t, plan)

	assert.Equal(t, "42:monthly-plan", paypalCustomID(42, "monthly-plan"))

	assert.Equal(t, ProviderStatusActive, paypalStatus("active"))
	assert.Equal(t, ProviderStatusPastDue, paypalStatus("SUSPENDED"))
	assert.Equal(t, ProviderStatusCanceled, paypalStatus("EXPIRED"))
	assert.Equal(t, ProviderStatusIncomplete, paypalStatus("APPROVAL_PENDING"))
}

func TestDispatch_PayPalFlow(t *testing.T) {
	f := newFixture(t)
	testutil.CreateUser(t, f.db, 42, "reader42", "")
	_, client := newPayPalStub(t)
	v := NewPayPalVerifier(client)

	subscription := []byte(`{
		"id": "WH-1",
		"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
		"resource": {"id": "I-SUB1", "plan_id": "P-MONTHLY", "status": "ACTIVE", "custom_id": "42:monthly-plan",
			"subscriber": {"payer_id": "PAYER42"},
			"billing_info": {"next_billing_time": "2026-11-01T00:00:00Z"}}
	}`)
	res, err := f.dispatcher.Dispatch(context.Background(), v, subscription, paypalHeaders())
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	u := testutil.Reload(t, f.db, 42)
	assert.Equal(t, models.SubscriptionMonthly, u.SubscriptionStatus)
	require.NotNil(t, u.SubscriptionExpires)
	// PayPal payer ids never take the Stripe customer slot.
	assert.Empty(t, u.CustomerID())

	sub := f.subscription(t, "I-SUB1")
	assert.Equal(t, models.BillingProviderPayPal, sub.Provider)
	assert.Equal(t, "monthly-plan", sub.PlanID)

	sale := []byte(`{
		"id": "WH-2",
		"event_type": "PAYMENT.SALE.COMPLETED",
		"resource": {"id": "SALE-1", "amount": {"total": "19.99", "currency": "USD"}, "billing_agreement_id": "I-SUB1"}
	}`)
	_, err = f.dispatcher.Dispatch(context.Background(), v, sale, paypalHeaders())
	require.NoError(t, err)

	var rec models.PaymentRecord
	require.NoError(t, f.db.Where("provider = ?", models.BillingProviderPayPal).First(&rec).Error)
	assert.Equal(t, uint(42), rec.UserID)
	require.NotNil(t, rec.SubscriptionID)
	assert.Equal(t, sub.ID, *rec.SubscriptionID)

	var ev models.BillingWebhookEvent
	require.NoError(t, f.db.Where("provider = ? AND provider_event_id = ?", models.BillingProviderPayPal, "WH-2").First(&ev).Error)
	assert.True(t, ev.Processed)
}
