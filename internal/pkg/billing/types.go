package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the closed set of provider events the reconciler understands.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCheckoutCompleted
	EventSubscriptionUpserted
	EventSubscriptionDeleted
	EventPaymentSucceeded
	EventPaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCheckoutCompleted:
		return "checkout_completed"
	case EventSubscriptionUpserted:
		return "subscription_upserted"
	case EventSubscriptionDeleted:
		return "subscription_deleted"
	case EventPaymentSucceeded:
		return "payment_succeeded"
	case EventPaymentFailed:
		return "payment_failed"
	case EventUnknown:
		return "unknown"
	}
	return "invalid"
}

// Event is a verified provider notification normalized into one of the
// payload shapes below. Exactly one payload pointer is set for known kinds.
type Event struct {
	Provider string
	ID       string
	Type     string
	Kind     EventKind
	Raw      []byte

	Checkout     *CheckoutCompleted
	Subscription *SubscriptionChange
	Payment      *InvoicePayment
}

// CheckoutCompleted is a finished hosted checkout.
type CheckoutCompleted struct {
	SessionID       string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	// UserID and PlanID come from the metadata attached at checkout creation.
	UserID uint
	PlanID string
}

// SubscriptionItem is one billed line of a provider subscription.
type SubscriptionItem struct {
	PriceID    string
	Interval   string
	UnitAmount decimal.Decimal
}

// SubscriptionChange is a provider subscription snapshot.
type SubscriptionChange struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	Items              []SubscriptionItem
	// Set when the provider echoes our own reference (PayPal custom_id).
	UserID uint
	PlanID string
}

// InvoicePayment is a single charge attempt against a customer.
type InvoicePayment struct {
	ID              string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	UserID          uint
}

// Provider subscription statuses after normalization. PayPal values are
// mapped onto these before reaching the reconciler.
const (
	ProviderStatusActive            = "active"
	ProviderStatusTrialing          = "trialing"
	ProviderStatusPastDue           = "past_due"
	ProviderStatusUnpaid            = "unpaid"
	ProviderStatusIncomplete        = "incomplete"
	ProviderStatusIncompleteExpired = "incomplete_expired"
	ProviderStatusPaused            = "paused"
	ProviderStatusCanceled          = "canceled"
)

func metadataJSON(v map[string]interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
