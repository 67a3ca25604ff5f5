package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/stripe/stripe-go/v83"
)

// StripeGateway creates customers and checkout sessions through the Stripe API.
type StripeGateway struct {
	client  *stripe.Client
	metrics Metrics
}

// NewStripeGateway builds a gateway from the configured secret key.
func NewStripeGateway(cfg *Config, httpClient *http.Client, m Metrics) (*StripeGateway, error) {
	key, err := cfg.Require(SettingStripeSecretKey)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: ProviderTimeout}
	}
	return newStripeGateway(key, stripe.NewBackends(httpClient), m), nil
}

func newStripeGateway(key string, backends *stripe.Backends, m Metrics) *StripeGateway {
	if m == nil {
		m = NoopMetrics{}
	}
	return &StripeGateway{
		client:  stripe.NewClient(key, stripe.WithBackends(backends)),
		metrics: m,
	}
}

func (g *StripeGateway) Provider() string {
	return models.BillingProviderStripe
}

// CreateCustomer creates a Stripe customer tagged with the local user.
// The idempotency key collapses duplicate creations for the same user.
func (g *StripeGateway) CreateCustomer(ctx context.Context, user *models.User) (string, error) {
	params := &stripe.CustomerCreateParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
	}
	params.AddMetadata("user_id", strconv.FormatUint(uint64(user.ID), 10))
	params.AddMetadata("username", user.Name)
	params.SetIdempotencyKey(fmt.Sprintf("customer-create-user-%d", user.ID))

	customer, err := g.client.V1Customers.Create(ctx, params)
	if err != nil {
		g.metrics.RecordAPICall(models.BillingProviderStripe, "/customers", "error")
		return "", stripeProviderError(err)
	}
	g.metrics.RecordAPICall(models.BillingProviderStripe, "/customers", "success")
	if customer == nil || customer.ID == "" {
		return "", &ProviderError{Provider: models.BillingProviderStripe, Reason: "customer response without id"}
	}
	return customer.ID, nil
}

// CreateSession creates a hosted Checkout Session. Recurring plans use
// subscription mode, lifetime plans a one-time payment.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error) {
	userID := strconv.FormatUint(uint64(req.User.ID), 10)

	priceData := &stripe.CheckoutSessionCreateLineItemPriceDataParams{
		Currency:   stripe.String(req.Currency),
		UnitAmount: stripe.Int64(req.UnitAmount),
		ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
			Name: stripe.String(req.Plan.Name),
		},
	}

	params := &stripe.CheckoutSessionCreateParams{
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: priceData,
				Quantity:  stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(userID),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.AddMetadata("user_id", userID)
	params.AddMetadata("plan_id", req.Plan.ID)

	switch req.Plan.BillingCycle {
	case models.BillingCycleMonthly, models.BillingCycleYearly:
		interval := "month"
		if req.Plan.BillingCycle == models.BillingCycleYearly {
			interval = "year"
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		priceData.Recurring = &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
			Interval: stripe.String(interval),
		}
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		params.SubscriptionData.AddMetadata("user_id", userID)
		params.SubscriptionData.AddMetadata("plan_id", req.Plan.ID)
	case models.BillingCycleLifetime:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
	default:
		return nil, fmt.Errorf("%w: %s has cycle %q", ErrInvalidPlan, req.Plan.ID, req.Plan.BillingCycle)
	}

	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		g.metrics.RecordAPICall(models.BillingProviderStripe, "/checkout/sessions", "error")
		return nil, stripeProviderError(err)
	}
	g.metrics.RecordAPICall(models.BillingProviderStripe, "/checkout/sessions", "success")
	if session == nil || session.ID == "" || session.URL == "" {
		return nil, &ProviderError{Provider: models.BillingProviderStripe, Reason: "checkout session response without id or url"}
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// stripeProviderError keeps the status and message Stripe reported.
func stripeProviderError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		reason := se.Msg
		if reason == "" {
			reason = string(se.Code)
		}
		return &ProviderError{Provider: models.BillingProviderStripe, StatusCode: se.HTTPStatusCode, Reason: reason}
	}
	return &ProviderError{Provider: models.BillingProviderStripe, Reason: err.Error()}
}
