package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chloecircle/chloecircle/app/models"
	"gorm.io/gorm"
)

// ServiceDeps are the optional collaborators of a Service.
type ServiceDeps struct {
	Settings   SettingsSource
	HTTPClient *http.Client
	Metrics    Metrics
	Access     AccessInvalidator
}

// Service is the entry point used by HTTP handlers. It resolves the billing
// configuration per call and wires the components for that call.
type Service struct {
	repo Repository
	deps ServiceDeps
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, deps ServiceDeps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: ProviderTimeout}
	}
	return &Service{repo: repo, deps: deps}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, deps ServiceDeps) *Service {
	return NewService(NewRepository(db), deps)
}

func (s *Service) config(ctx context.Context) (*Config, error) {
	return LoadConfig(ctx, s.deps.Settings)
}

// Verifier returns the webhook verifier for provider.
func (s *Service) Verifier(ctx context.Context, provider string) (Verifier, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(provider) {
	case models.BillingProviderStripe:
		return NewStripeVerifier(cfg)
	case models.BillingProviderPayPal:
		client, err := NewPayPalClient(cfg, s.deps.HTTPClient, s.deps.Metrics)
		if err != nil {
			return nil, err
		}
		return NewPayPalVerifier(client), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrConfiguration, provider)
	}
}

// HandleWebhook verifies and dispatches one provider delivery.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (*DispatchResult, error) {
	v, err := s.Verifier(ctx, provider)
	if err != nil {
		return nil, err
	}
	return s.Dispatcher().Dispatch(ctx, v, payload, header)
}

// Dispatcher returns a dispatcher wired with the service collaborators.
func (s *Service) Dispatcher() *Dispatcher {
	opts := []DispatcherOption{WithMetrics(s.deps.Metrics)}
	if s.deps.Access != nil {
		opts = append(opts, WithAccessInvalidator(s.deps.Access))
	}
	return NewDispatcher(s.repo, opts...)
}

// CreateCheckout starts a hosted checkout at the requested provider.
func (s *Service) CreateCheckout(ctx context.Context, user *models.User, req CheckoutRequest) (*CheckoutSession, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	gw, err := NewGateway(cfg, req.Provider, s.deps.HTTPClient, s.deps.Metrics)
	if err != nil {
		return nil, err
	}
	return NewCheckoutInitiator(s.repo, cfg, gw, s.deps.Metrics).CreateCheckout(ctx, user, req)
}

// CapturePayPalOrder captures an order the buyer approved on PayPal.
func (s *Service) CapturePayPalOrder(ctx context.Context, orderID string) (string, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return "", err
	}
	client, err := NewPayPalClient(cfg, s.deps.HTTPClient, s.deps.Metrics)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, ProviderTimeout)
	defer cancel()
	return client.CaptureOrder(ctx, orderID)
}
