package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/google/uuid"
	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

// PayPal webhook transmission headers.
const (
	PayPalHeaderTransmissionID   = "Paypal-Transmission-Id"
	PayPalHeaderTransmissionTime = "Paypal-Transmission-Time"
	PayPalHeaderTransmissionSig  = "Paypal-Transmission-Sig"
	PayPalHeaderCertURL          = "Paypal-Cert-Url"
	PayPalHeaderAuthAlgo         = "Paypal-Auth-Algo"
)

// PayPalClient talks to the PayPal REST API for checkout and webhook checks.
type PayPalClient struct {
	WebhookID   string
	PlanMonthly string
	PlanYearly  string

	api *paypal.Client
}

// NewPayPalClient builds a client from the configured credentials.
func NewPayPalClient(cfg *Config, httpClient *http.Client, m Metrics) (*PayPalClient, error) {
	id, err := cfg.Require(SettingPayPalClientID)
	if err != nil {
		return nil, err
	}
	secret, err := cfg.Require(SettingPayPalClientSecret)
	if err != nil {
		return nil, err
	}
	base := paypal.APIBaseSandBox
	if strings.EqualFold(cfg.Value(SettingPayPalMode), "live") {
		base = paypal.APIBaseLive
	}
	c, err := newPayPalClient(id, secret, base, httpClient, m)
	if err != nil {
		return nil, err
	}
	c.WebhookID = cfg.Value(SettingPayPalWebhookID)
	c.PlanMonthly = cfg.Value(SettingPayPalPlanMonthly)
	c.PlanYearly = cfg.Value(SettingPayPalPlanYearly)
	return c, nil
}

func newPayPalClient(id, secret, base string, httpClient *http.Client, m Metrics) (*PayPalClient, error) {
	api, err := paypal.NewClient(id, secret, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: ProviderTimeout}
	}
	if m == nil {
		m = NoopMetrics{}
	}
	api.SetHTTPClient(&http.Client{
		Timeout:   httpClient.Timeout,
		Transport: &paypalTransport{base: httpClient.Transport, metrics: m},
	})
	return &PayPalClient{api: api}, nil
}

func (c *PayPalClient) Provider() string {
	return models.BillingProviderPayPal
}

// paypalTransport tags every POST with a PayPal-Request-Id and records the
// outcome of each call.
type paypalTransport struct {
	base    http.RoundTripper
	metrics Metrics
}

func (t *paypalTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Method == http.MethodPost && req.Header.Get("PayPal-Request-Id") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("PayPal-Request-Id", uuid.NewString())
	}
	resp, err := base.RoundTrip(req)
	status := "success"
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = "error"
	}
	t.metrics.RecordAPICall(models.BillingProviderPayPal, req.URL.Path, status)
	return resp, err
}

// paypalError turns a library error into a ProviderError.
func paypalError(err error) error {
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) {
		pe := &ProviderError{
			Provider: models.BillingProviderPayPal,
			Reason:   strings.TrimSpace(apiErr.Name + " " + apiErr.Message),
		}
		if apiErr.Response != nil {
			pe.StatusCode = apiErr.Response.StatusCode
		}
		if pe.Reason == "" {
			pe.Reason = http.StatusText(pe.StatusCode)
		}
		return pe
	}
	return &ProviderError{Provider: models.BillingProviderPayPal, Reason: err.Error()}
}

func approveLink(links []paypal.Link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// CreateSession starts an Orders v2 checkout for lifetime plans and a
// Subscriptions checkout for recurring plans. Both carry "<user>:<plan>" as
// custom_id so the webhook can find the buyer.
func (c *PayPalClient) CreateSession(ctx context.Context, req SessionRequest) (*CheckoutSession, error) {
	customID := paypalCustomID(req.User.ID, req.Plan.ID)
	appCtx := &paypal.ApplicationContext{
		ReturnURL:          req.SuccessURL,
		CancelURL:          req.CancelURL,
		UserAction:         "PAY_NOW",
		ShippingPreference: "NO_SHIPPING",
	}

	var id string
	var links []paypal.Link
	switch req.Plan.BillingCycle {
	case models.BillingCycleLifetime:
		order, err := c.api.CreateOrder(ctx, paypal.OrderIntentCapture, []paypal.PurchaseUnitRequest{{
			ReferenceID: req.Plan.ID,
			CustomID:    customID,
			Description: req.Plan.Name,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: strings.ToUpper(req.Currency),
				Value:    decimal.New(req.UnitAmount, -2).StringFixed(2),
			},
		}}, nil, appCtx)
		if err != nil {
			return nil, paypalError(err)
		}
		id, links = order.ID, order.Links
	case models.BillingCycleMonthly, models.BillingCycleYearly:
		key := SettingPayPalPlanMonthly
		planID := c.PlanMonthly
		if req.Plan.BillingCycle == models.BillingCycleYearly {
			key, planID = SettingPayPalPlanYearly, c.PlanYearly
		}
		if planID == "" {
			return nil, missingSetting(key)
		}
		appCtx.UserAction = "SUBSCRIBE_NOW"
		sub, err := c.api.CreateSubscription(ctx, paypal.SubscriptionBase{
			PlanID:             planID,
			CustomID:           customID,
			ApplicationContext: appCtx,
		})
		if err != nil {
			return nil, paypalError(err)
		}
		id, links = sub.ID, sub.Links
	default:
		return nil, fmt.Errorf("%w: %s has cycle %q", ErrInvalidPlan, req.Plan.ID, req.Plan.BillingCycle)
	}

	approve := approveLink(links)
	if id == "" || approve == "" {
		return nil, &ProviderError{Provider: models.BillingProviderPayPal, Reason: "response without id or approve link"}
	}
	return &CheckoutSession{ID: id, URL: approve}, nil
}

// CaptureOrder captures an approved lifetime order. PayPal then sends
// PAYMENT.CAPTURE.COMPLETED which grants access.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", errors.New("order id is required")
	}
	out, err := c.api.CaptureOrder(ctx, url.PathEscape(orderID), paypal.CaptureOrderRequest{})
	if err != nil {
		return "", paypalError(err)
	}
	return out.Status, nil
}

// VerifyWebhook asks PayPal whether a delivery was signed for our webhook id.
func (c *PayPalClient) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) error {
	if c.WebhookID == "" {
		return missingSetting(SettingPayPalWebhookID)
	}
	for _, h := range []string{
		PayPalHeaderTransmissionID,
		PayPalHeaderTransmissionTime,
		PayPalHeaderTransmissionSig,
		PayPalHeaderCertURL,
		PayPalHeaderAuthAlgo,
	} {
		if strings.TrimSpace(header.Get(h)) == "" {
			return ErrInvalidSignature
		}
	}
	if !json.Valid(payload) {
		return ErrInvalidSignature
	}

	delivery, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paypal", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	delivery.Header = header.Clone()

	out, err := c.api.VerifyWebhookSignature(ctx, delivery, c.WebhookID)
	if err != nil {
		return paypalError(err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return ErrInvalidSignature
	}
	return nil
}

// PayPalVerifier verifies deliveries to the PayPal webhook endpoint.
type PayPalVerifier struct {
	client *PayPalClient
}

func NewPayPalVerifier(client *PayPalClient) *PayPalVerifier {
	return &PayPalVerifier{client: client}
}

func (v *PayPalVerifier) Provider() string {
	return models.BillingProviderPayPal
}

func (v *PayPalVerifier) Verify(ctx context.Context, payload []byte, header http.Header) (*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, ProviderTimeout)
	defer cancel()
	if err := v.client.VerifyWebhook(ctx, payload, header); err != nil {
		return nil, err
	}
	return decodePayPalEvent(payload)
}

func paypalCustomID(userID uint, planID string) string {
	return fmt.Sprintf("%d:%s", userID, planID)
}

// parsePayPalCustomID splits "<user>:<plan>". Missing parts come back zero.
func parsePayPalCustomID(s string) (uint, string) {
	userPart, planPart, _ := strings.Cut(strings.TrimSpace(s), ":")
	id, err := strconv.ParseUint(userPart, 10, 64)
	if err != nil {
		return 0, ""
	}
	return uint(id), strings.TrimSpace(planPart)
}

type paypalEnvelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalCapture struct {
	ID       string                    `json:"id"`
	Amount   paypal.PurchaseUnitAmount `json:"amount"`
	CustomID string                    `json:"custom_id"`
	Related  struct {
		IDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type paypalSubscription struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	Status     string `json:"status"`
	CustomID   string `json:"custom_id"`
	StartTime  string `json:"start_time"`
	Subscriber struct {
		PayerID string `json:"payer_id"`
	} `json:"subscriber"`
	BillingInfo struct {
		NextBillingTime string `json:"next_billing_time"`
		LastPayment     struct {
			Amount paypal.PurchaseUnitAmount `json:"amount"`
			Time   string                    `json:"time"`
		} `json:"last_payment"`
		LastFailedPayment struct {
			Amount paypal.PurchaseUnitAmount `json:"amount"`
		} `json:"last_failed_payment"`
	} `json:"billing_info"`
}

type paypalSale struct {
	ID     string `json:"id"`
	Amount struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Custom             string `json:"custom"`
}

func paypalEventKind(t string) EventKind {
	switch t {
	case "PAYMENT.CAPTURE.COMPLETED":
		return EventCheckoutCompleted
	case "BILLING.SUBSCRIPTION.CREATED", "BILLING.SUBSCRIPTION.ACTIVATED", "BILLING.SUBSCRIPTION.UPDATED":
		return EventSubscriptionUpserted
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		return EventSubscriptionDeleted
	case "PAYMENT.SALE.COMPLETED":
		return EventPaymentSucceeded
	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}

// paypalStatus maps PayPal subscription states onto the normalized set.
func paypalStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE":
		return ProviderStatusActive
	case "SUSPENDED":
		return ProviderStatusPastDue
	case "CANCELLED", "EXPIRED":
		return ProviderStatusCanceled
	default:
		return ProviderStatusIncomplete
	}
}

func decodePayPalEvent(payload []byte) (*Event, error) {
	var env paypalEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.EventType) == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrInvalidPayload)
	}

	ev := &Event{
		Provider: models.BillingProviderPayPal,
		ID:       env.ID,
		Type:     env.EventType,
		Kind:     paypalEventKind(env.EventType),
		Raw:      payload,
	}
	if ev.Kind == EventUnknown {
		return ev, nil
	}
	if len(env.Resource) == 0 {
		return nil, fmt.Errorf("%w: event %s has no resource", ErrInvalidPayload, env.ID)
	}

	var err error
	switch ev.Kind {
	case EventCheckoutCompleted:
		ev.Checkout, err = decodePayPalCapture(env.Resource)
	case EventSubscriptionUpserted, EventSubscriptionDeleted:
		ev.Subscription, err = decodePayPalSubscription(env.Resource)
	case EventPaymentSucceeded:
		ev.Payment, err = decodePayPalSale(env.Resource)
	case EventPaymentFailed:
		ev.Payment, err = decodePayPalFailedPayment(env.ID, env.Resource)
	case EventUnknown:
	}
	if err != nil {
		return nil, fmt.Errorf("%w: event %s: %v", ErrInvalidPayload, env.ID, err)
	}
	return ev, nil
}

func decodePayPalCapture(raw []byte) (*CheckoutCompleted, error) {
	var c paypalCapture
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	amount, err := parsePayPalAmount(c.Amount.Value)
	if err != nil {
		return nil, err
	}
	userID, planID := parsePayPalCustomID(c.CustomID)
	return &CheckoutCompleted{
		SessionID:       firstNonEmpty(c.Related.IDs.OrderID, c.ID),
		PaymentIntentID: c.ID,
		Amount:          amount,
		Currency:        strings.ToLower(c.Amount.Currency),
		UserID:          userID,
		PlanID:          planID,
	}, nil
}

func decodePayPalSubscription(raw []byte) (*SubscriptionChange, error) {
	var s paypalSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, errors.New("subscription id missing")
	}
	userID, planID := parsePayPalCustomID(s.CustomID)
	out := &SubscriptionChange{
		ID:                 s.ID,
		CustomerID:         s.Subscriber.PayerID,
		Status:             paypalStatus(s.Status),
		CurrentPeriodStart: parsePayPalTime(firstNonEmpty(s.BillingInfo.LastPayment.Time, s.StartTime)),
		CurrentPeriodEnd:   parsePayPalTime(s.BillingInfo.NextBillingTime),
		UserID:             userID,
		PlanID:             planID,
	}
	if s.PlanID != "" {
		out.Items = []SubscriptionItem{{PriceID: s.PlanID}}
	}
	return out, nil
}

func decodePayPalSale(raw []byte) (*InvoicePayment, error) {
	var s paypalSale
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	amount, err := parsePayPalAmount(s.Amount.Total)
	if err != nil {
		return nil, err
	}
	userID, _ := parsePayPalCustomID(s.Custom)
	return &InvoicePayment{
		ID:              s.ID,
		SubscriptionID:  s.BillingAgreementID,
		PaymentIntentID: s.ID,
		Amount:          amount,
		Currency:        strings.ToLower(s.Amount.Currency),
		UserID:          userID,
	}, nil
}

func decodePayPalFailedPayment(eventID string, raw []byte) (*InvoicePayment, error) {
	var s paypalSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	amount := decimal.Zero
	if v := s.BillingInfo.LastFailedPayment.Amount.Value; v != "" {
		parsed, err := parsePayPalAmount(v)
		if err != nil {
			return nil, err
		}
		amount = parsed
	}
	userID, _ := parsePayPalCustomID(s.CustomID)
	return &InvoicePayment{
		ID:             eventID,
		SubscriptionID: s.ID,
		Amount:         amount,
		Currency:       strings.ToLower(s.BillingInfo.LastFailedPayment.Amount.Currency),
		Description:    fmt.Sprintf("Failed payment for subscription %s", s.ID),
		UserID:         userID,
	}, nil
}

func parsePayPalAmount(v string) (decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero, errors.New("amount missing")
	}
	return decimal.NewFromString(strings.TrimSpace(v))
}

func parsePayPalTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
