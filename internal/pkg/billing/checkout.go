package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

// ProviderTimeout bounds every outbound payment provider call.
const ProviderTimeout = 15 * time.Second

// CheckoutRequest is what the browser submits to start a purchase.
type CheckoutRequest struct {
	PlanID   string          `json:"plan_id" validate:"required,max=64"`
	PlanName string          `json:"plan_name" validate:"max=150"`
	Price    decimal.Decimal `json:"price"`
	Provider string          `json:"provider" validate:"omitempty,oneof=stripe paypal"`
}

// CheckoutSession is a provider-hosted checkout the user is redirected to.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// SessionRequest is the provider-neutral input for creating a session.
type SessionRequest struct {
	User       *models.User
	CustomerID string
	Plan       *models.SubscriptionPlan
	UnitAmount int64
	Currency   string
	SuccessURL string
	CancelURL  string
}

// SessionGateway creates hosted checkout sessions at one provider. Gateways
// that also implement CustomerGateway get a provider customer attached.
type SessionGateway interface {
	Provider() string
	CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error)
}

// NewGateway returns the session gateway for provider, built from cfg.
func NewGateway(cfg *Config, provider string, httpClient *http.Client, m Metrics) (SessionGateway, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", models.BillingProviderStripe:
		return NewStripeGateway(cfg, httpClient, m)
	case models.BillingProviderPayPal:
		return NewPayPalClient(cfg, httpClient, m)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidPlan, provider)
	}
}

// CheckoutInitiator starts provider checkouts for catalog plans.
type CheckoutInitiator struct {
	repo     Repository
	cfg      *Config
	gateway  SessionGateway
	resolver *Resolver
	metrics  Metrics
	validate *validator.Validate
}

// NewCheckoutInitiator wires an initiator for a single provider gateway.
func NewCheckoutInitiator(repo Repository, cfg *Config, gateway SessionGateway, m Metrics) *CheckoutInitiator {
	var customers CustomerGateway
	if cg, ok := gateway.(CustomerGateway); ok {
		customers = cg
	}
	if m == nil {
		m = NoopMetrics{}
	}
	return &CheckoutInitiator{
		repo:     repo,
		cfg:      cfg,
		gateway:  gateway,
		resolver: NewResolver(repo, customers),
		metrics:  m,
		validate: validator.New(),
	}
}

// CreateCheckout validates the requested plan against the catalog and asks
// the provider for a hosted session tagged with the user and plan ids.
func (c *CheckoutInitiator) CreateCheckout(ctx context.Context, user *models.User, req CheckoutRequest) (*CheckoutSession, error) {
	provider := c.gateway.Provider()
	session, err := c.createCheckout(ctx, user, req)
	switch {
	case err == nil:
		c.metrics.RecordCheckout(provider, "success")
	case errors.Is(err, ErrPlanNotFound), errors.Is(err, ErrInvalidPlan):
		c.metrics.RecordCheckout(provider, "invalid_plan")
	case errors.Is(err, ErrConfiguration):
		c.metrics.RecordCheckout(provider, "misconfigured")
	default:
		c.metrics.RecordCheckout(provider, "provider_error")
	}
	return session, err
}

func (c *CheckoutInitiator) createCheckout(ctx context.Context, user *models.User, req CheckoutRequest) (*CheckoutSession, error) {
	if user == nil || user.ID == 0 {
		return nil, fmt.Errorf("%w: no user", ErrNotFound)
	}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	plan, err := c.repo.GetPlan(ctx, strings.TrimSpace(req.PlanID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, req.PlanID)
		}
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrPlanNotFound, plan.ID)
	}
	if err := checkRequestAgainstPlan(req, plan); err != nil {
		return nil, err
	}

	success, cancel, err := c.cfg.RedirectURLs()
	if err != nil {
		return nil, err
	}

	sr := SessionRequest{
		User:       user,
		Plan:       plan,
		UnitAmount: toMinorUnits(plan.Price),
		Currency:   c.cfg.Currency(),
		SuccessURL: success,
		CancelURL:  cancel,
	}

	ctx, cancelCtx := context.WithTimeout(ctx, ProviderTimeout)
	defer cancelCtx()

	if c.resolver.customers != nil {
		sr.CustomerID, err = c.resolver.GetOrCreateProviderCustomer(ctx, user)
		if err != nil {
			return nil, err
		}
	}

	session, err := c.gateway.CreateSession(ctx, sr)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] Created %s checkout %s for user %d plan %s", c.gateway.Provider(), session.ID, user.ID, plan.ID)
	return session, nil
}

// checkRequestAgainstPlan rejects requests whose displayed name or price no
// longer match the catalog. Empty name and zero price are not checked.
func checkRequestAgainstPlan(req CheckoutRequest, plan *models.SubscriptionPlan) error {
	if !plan.Price.IsPositive() {
		return fmt.Errorf("%w: %s has no price", ErrInvalidPlan, plan.ID)
	}
	switch plan.BillingCycle {
	case models.BillingCycleMonthly, models.BillingCycleYearly, models.BillingCycleLifetime:
	default:
		return fmt.Errorf("%w: %s has cycle %q", ErrInvalidPlan, plan.ID, plan.BillingCycle)
	}
	if name := strings.TrimSpace(req.PlanName); name != "" && !strings.EqualFold(name, plan.Name) {
		return fmt.Errorf("%w: name %q does not match %s", ErrInvalidPlan, name, plan.ID)
	}
	if !req.Price.IsZero() && !req.Price.Equal(plan.Price) {
		return fmt.Errorf("%w: price %s does not match %s", ErrInvalidPlan, req.Price, plan.Price)
	}
	return nil
}
