package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
)

var checkoutConfig = map[string]string{
	SettingCheckoutSuccessURL: "https://chloecircle.test/billing/success",
	SettingCheckoutCancelURL:  "https://chloecircle.test/billing/cancel",
}

type fakeGateway struct {
	fakeCustomers
	sessions []SessionRequest
	err      error
}

func (g *fakeGateway) Provider() string { return "stripe" }

func (g *fakeGateway) CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errBoom
	}
	g.sessions = append(g.sessions, req)
	if g.err != nil {
		return nil, g.err
	}
	return &CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

type checkoutMetrics struct {
	NoopMetrics
	results []string
}

func (m *checkoutMetrics) RecordCheckout(_ string, result string) {
	m.results = append(m.results, result)
}

func TestCreateCheckout(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, cfg map[string]string) (*fixture, *models.User, *fakeGateway, *checkoutMetrics, *CheckoutInitiator) {
		f := newFixture(t)
		u := testutil.CreateUser(t, f.db, 42, "reader42", "")
		gw := &fakeGateway{fakeCustomers: fakeCustomers{next: []string{"cus_new"}}}
		m := &checkoutMetrics{}
		return f, u, gw, m, NewCheckoutInitiator(f.repo, NewConfig(cfg), gw, m)
	}

	t.Run("lifetime success", func(t *testing.T) {
		f, u, gw, m, c := setup(t, checkoutConfig)
		session, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "lifetime-plan", PlanName: "Lifetime", Price: decimal.RequireFromString("99.99")})
		require.NoError(t, err)
		assert.Equal(t, "cs_test_1", session.ID)
		assert.NotEmpty(t, session.URL)

		require.Len(t, gw.sessions, 1)
		req := gw.sessions[0]
		assert.Equal(t, int64(9999), req.UnitAmount)
		assert.Equal(t, "usd", req.Currency)
		assert.Equal(t, "cus_new", req.CustomerID)
		assert.Equal(t, "lifetime-plan", req.Plan.ID)
		assert.Equal(t, checkoutConfig[SettingCheckoutSuccessURL], req.SuccessURL)
		assert.Equal(t, "cus_new", testutil.Reload(t, f.db, 42).CustomerID())
		assert.Equal(t, []string{"success"}, m.results)
	})

	t.Run("name and price are optional", func(t *testing.T) {
		_, u, gw, _, c := setup(t, checkoutConfig)
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "monthly-plan"})
		require.NoError(t, err)
		assert.Equal(t, int64(1999), gw.sessions[0].UnitAmount)
	})

	t.Run("existing customer reused", func(t *testing.T) {
		f, _, gw, _, c := setup(t, checkoutConfig)
		u := testutil.CreateUser(t, f.db, 43, "reader43", "cus_known")
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "yearly-plan"})
		require.NoError(t, err)
		assert.Zero(t, gw.calls)
		assert.Equal(t, "cus_known", gw.sessions[0].CustomerID)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, u, gw, m, c := setup(t, checkoutConfig)
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "gold-plan"})
		require.ErrorIs(t, err, ErrPlanNotFound)
		assert.Empty(t, gw.sessions)
		assert.Equal(t, []string{"invalid_plan"}, m.results)
	})

	t.Run("inactive plan", func(t *testing.T) {
		f, u, gw, _, c := setup(t, checkoutConfig)
		require.NoError(t, f.db.Model(&models.SubscriptionPlan{}).Where("id = ?", "monthly-plan").Update("active", false).Error)
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "monthly-plan"})
		require.ErrorIs(t, err, ErrPlanNotFound)
		assert.Empty(t, gw.sessions)
	})

	t.Run("name mismatch", func(t *testing.T) {
		_, u, gw, _, c := setup(t, checkoutConfig)
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "monthly-plan", PlanName: "Yearly"})
		require.ErrorIs(t, err, ErrInvalidPlan)
		assert.Empty(t, gw.sessions)
	})

	t.Run("price mismatch", func(t *testing.T) {
		_, u, gw, _, c := setup(t, checkoutConfig)
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "monthly-plan", Price: decimal.RequireFromString("1.00")})
		require.ErrorIs(t, err, ErrInvalidPlan)
		assert.Empty(t, gw.sessions)
		assert.Zero(t, gw.calls)
	})

	t.Run("missing plan id", func(t *testing.T) {
		_, u, _, _, c := setup(t, checkoutConfig)
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{})
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("missing redirect config", func(t *testing.T) {
		_, u, gw, m, c := setup(t, nil)
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "monthly-plan"})
		require.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), SettingCheckoutSuccessURL)
		assert.Empty(t, gw.sessions)
		assert.Equal(t, []string{"misconfigured"}, m.results)
	})

	t.Run("provider failure", func(t *testing.T) {
		_, u, gw, m, c := setup(t, checkoutConfig)
		gw.err = &ProviderError{Provider: "stripe", StatusCode: 402, Reason: "card_declined"}
		_, err := c.CreateCheckout(ctx, u, CheckoutRequest{PlanID: "monthly-plan"})
		require.ErrorIs(t, err, ErrProvider)
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 402, pe.StatusCode)
		assert.Equal(t, []string{"provider_error"}, m.results)
	})
}

type stripeStub struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []map[string]string
}

func newStripeStub(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*stripeStub, *StripeGateway) {
	t.Helper()
	stub := &stripeStub{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k, v := range r.PostForm {
			form[k] = v[0]
		}
		stub.mu.Lock()
		stub.requests = append(stub.requests, r)
		stub.forms = append(stub.forms, form)
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
	})
	return stub, newStripeGateway("sk_test_123", backends, nil)
}

func TestStripeGateway_CreateCustomer(t *testing.T) {
	stub, gw := newStripeStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "cus_stub", "object": "customer"})
	})

	id, err := gw.CreateCustomer(context.Background(), &models.User{ID: 42, Name: "reader42", Email: "reader42@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "cus_stub", id)

	require.Len(t, stub.requests, 1)
	assert.Equal(t, "customer-create-user-42", stub.requests[0].Header.Get("Idempotency-Key"))
	assert.Equal(t, "Bearer sk_test_123", stub.requests[0].Header.Get("Authorization"))
	form := stub.forms[0]
	assert.Equal(t, "reader42@example.com", form["email"])
	assert.Equal(t, "42", form["metadata[user_id]"])
	assert.Equal(t, "reader42", form["metadata[username]"])
}

func TestStripeGateway_CreateSession(t *testing.T) {
	stub, gw := newStripeStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     "cs_stub",
			"object": "checkout.session",
			"url":    "https://checkout.stripe.test/cs_stub",
		})
	})
	user := &models.User{ID: 7, Name: "reader7"}

	t.Run("lifetime is a one-time payment", func(t *testing.T) {
		session, err := gw.CreateSession(context.Background(), SessionRequest{
			User:       user,
			CustomerID: "cus_7",
			Plan:       &models.SubscriptionPlan{ID: "lifetime-plan", Name: "Lifetime", BillingCycle: models.BillingCycleLifetime},
			UnitAmount: 9999,
			Currency:   "usd",
			SuccessURL: "https://s",
			CancelURL:  "https://c",
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_stub", session.ID)

		form := stub.forms[len(stub.forms)-1]
		assert.Equal(t, "payment", form["mode"])
		assert.Equal(t, "cus_7", form["customer"])
		assert.Equal(t, "9999", form["line_items[0][price_data][unit_amount]"])
		assert.Equal(t, "Lifetime", form["line_items[0][price_data][product_data][name]"])
		assert.Equal(t, "7", form["metadata[user_id]"])
		assert.Equal(t, "lifetime-plan", form["metadata[plan_id]"])
		assert.Empty(t, form["line_items[0][price_data][recurring][interval]"])
	})

	t.Run("yearly is a subscription", func(t *testing.T) {
		_, err := gw.CreateSession(context.Background(), SessionRequest{
			User:       user,
			Plan:       &models.SubscriptionPlan{ID: "yearly-plan", Name: "Yearly", BillingCycle: models.BillingCycleYearly},
			UnitAmount: 19999,
			Currency:   "usd",
			SuccessURL: "https://s",
			CancelURL:  "https://c",
		})
		require.NoError(t, err)

		form := stub.forms[len(stub.forms)-1]
		assert.Equal(t, "subscription", form["mode"])
		assert.Equal(t, "year", form["line_items[0][price_data][recurring][interval]"])
		assert.Equal(t, "7", form["subscription_data[metadata][user_id]"])
		assert.Equal(t, "yearly-plan", form["subscription_data[metadata][plan_id]"])
	})
}

func TestStripeGateway_ProviderError(t *testing.T) {
	_, gw := newStripeStub(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer: 'cus_gone'"}}`))
	})

	_, err := gw.CreateSession(context.Background(), SessionRequest{
		User:       &models.User{ID: 1},
		CustomerID: "cus_gone",
		Plan:       &models.SubscriptionPlan{ID: "monthly-plan", Name: "Monthly", BillingCycle: models.BillingCycleMonthly},
		UnitAmount: 1999,
		Currency:   "usd",
		SuccessURL: "https://s",
		CancelURL:  "https://c",
	})
	require.ErrorIs(t, err, ErrProvider)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Contains(t, pe.Reason, "No such customer")
	assert.NotContains(t, err.Error(), "sk_test_123")
}

func TestNewGateway(t *testing.T) {
	_, err := NewGateway(NewConfig(nil), "stripe", nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	gw, err := NewGateway(NewConfig(map[string]string{SettingStripeSecretKey: "sk_test"}), "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "stripe", gw.Provider())

	_, err = NewGateway(NewConfig(nil), "bitcoin", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}
