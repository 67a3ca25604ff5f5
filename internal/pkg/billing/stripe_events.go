package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/stripe/stripe-go/v83"
)

// stripeLegacyFields carries the pre-2025 top-level fields that the v83
// objects no longer model. Older API versions still deliver them.
type stripeLegacyFields struct {
	CurrentPeriodStart int64                 `json:"current_period_start"`
	CurrentPeriodEnd   int64                 `json:"current_period_end"`
	Subscription       *stripe.Subscription  `json:"subscription"`
	PaymentIntent      *stripe.PaymentIntent `json:"payment_intent"`
}

func stripeEventKind(t stripe.EventType) EventKind {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted:
		return EventCheckoutCompleted
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		return EventSubscriptionUpserted
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return EventSubscriptionDeleted
	case stripe.EventTypeInvoicePaymentSucceeded:
		return EventPaymentSucceeded
	case stripe.EventTypeInvoicePaymentFailed:
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}

// decodeStripeEvent parses the envelope and the data object for known kinds.
func decodeStripeEvent(payload []byte) (*Event, error) {
	var env stripe.Event
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(env.ID) == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrInvalidPayload)
	}

	ev := &Event{
		Provider: models.BillingProviderStripe,
		ID:       env.ID,
		Type:     string(env.Type),
		Kind:     stripeEventKind(env.Type),
		Raw:      payload,
	}
	if ev.Kind == EventUnknown {
		return ev, nil
	}
	if env.Data == nil || len(env.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrInvalidPayload, env.ID)
	}

	var err error
	switch ev.Kind {
	case EventCheckoutCompleted:
		ev.Checkout, err = decodeStripeCheckout(env.Data.Raw)
	case EventSubscriptionUpserted, EventSubscriptionDeleted:
		ev.Subscription, err = decodeStripeSubscription(env.Data.Raw)
	case EventPaymentSucceeded, EventPaymentFailed:
		ev.Payment, err = decodeStripeInvoice(env.Data.Raw)
	case EventUnknown:
	}
	if err != nil {
		return nil, fmt.Errorf("%w: event %s: %v", ErrInvalidPayload, env.ID, err)
	}
	return ev, nil
}

func decodeStripeCheckout(raw []byte) (*CheckoutCompleted, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	return &CheckoutCompleted{
		SessionID:       session.ID,
		CustomerID:      stripeCustomerID(session.Customer),
		SubscriptionID:  stripeSubscriptionID(session.Subscription),
		PaymentIntentID: stripePaymentIntentID(session.PaymentIntent),
		Amount:          fromMinorUnits(session.AmountTotal),
		Currency:        strings.ToLower(string(session.Currency)),
		UserID:          metadataUserID(session.Metadata),
		PlanID:          strings.TrimSpace(session.Metadata["plan_id"]),
	}, nil
}

func decodeStripeSubscription(raw []byte) (*SubscriptionChange, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("subscription id missing")
	}
	var legacy stripeLegacyFields
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}

	out := &SubscriptionChange{
		ID:         sub.ID,
		CustomerID: stripeCustomerID(sub.Customer),
		Status:     strings.ToLower(string(sub.Status)),
		UserID:     metadataUserID(sub.Metadata),
		PlanID:     strings.TrimSpace(sub.Metadata["plan_id"]),
	}
	start, end := legacy.CurrentPeriodStart, legacy.CurrentPeriodEnd
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			var si SubscriptionItem
			if item.Price != nil {
				si.PriceID = item.Price.ID
				si.UnitAmount = fromMinorUnits(item.Price.UnitAmount)
				if item.Price.Recurring != nil {
					si.Interval = string(item.Price.Recurring.Interval)
				}
			}
			// Newer API versions only carry the period on the items.
			if len(out.Items) == 0 && start == 0 && end == 0 {
				start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
			}
			out.Items = append(out.Items, si)
		}
	}
	out.CurrentPeriodStart = unixTime(start)
	out.CurrentPeriodEnd = unixTime(end)
	return out, nil
}

func decodeStripeInvoice(raw []byte) (*InvoicePayment, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	var legacy stripeLegacyFields
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}

	subID := stripeSubscriptionID(legacy.Subscription)
	var meta map[string]string
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if subID == "" {
			subID = stripeSubscriptionID(inv.Parent.SubscriptionDetails.Subscription)
		}
		meta = inv.Parent.SubscriptionDetails.Metadata
	}
	piID := stripePaymentIntentID(legacy.PaymentIntent)
	if piID == "" && inv.Payments != nil {
		for _, p := range inv.Payments.Data {
			if p != nil && p.Payment != nil && p.Payment.PaymentIntent != nil {
				piID = p.Payment.PaymentIntent.ID
				break
			}
		}
	}
	amount := inv.AmountPaid
	if amount == 0 {
		amount = inv.AmountDue
	}
	return &InvoicePayment{
		ID:              inv.ID,
		CustomerID:      stripeCustomerID(inv.Customer),
		SubscriptionID:  subID,
		PaymentIntentID: piID,
		Amount:          fromMinorUnits(amount),
		Currency:        strings.ToLower(string(inv.Currency)),
		Description:     inv.Description,
		UserID:          metadataUserID(meta),
	}, nil
}

func stripeCustomerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func stripeSubscriptionID(s *stripe.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func stripePaymentIntentID(p *stripe.PaymentIntent) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func metadataUserID(meta map[string]string) uint {
	if meta == nil {
		return 0
	}
	id, err := strconv.ParseUint(strings.TrimSpace(meta["user_id"]), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
