package models

import (
	"fmt"
	"time"
)

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
	BillingProviderPayPal = "paypal"
)

// BillingSubscriptionStatus is the local lifecycle of a provider subscription.
// canceled is terminal.
type BillingSubscriptionStatus string

const (
	BillingStatusActive   BillingSubscriptionStatus = "active"
	BillingStatusPastDue  BillingSubscriptionStatus = "past_due"
	BillingStatusCanceled BillingSubscriptionStatus = "canceled"
)

// BillingSubscription mirrors a provider subscription (or a one-time lifetime
// purchase) for a user.
type BillingSubscription struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;index" json:"user_id"`
	PlanID string `gorm:"type:varchar(64);not null;index" json:"plan_id"`
	// SubscriptionKey is the upsert key: the provider subscription id, or a
	// synthetic lifetime key when the purchase has no provider subscription.
	SubscriptionKey        string                    `gorm:"type:varchar(191);not null;uniqueIndex" json:"subscription_key"`
	Provider               string                    `gorm:"type:varchar(20);not null;index" json:"provider"`
	ProviderSubscriptionID *string                   `gorm:"type:varchar(191);uniqueIndex;default:null" json:"provider_subscription_id,omitempty"`
	ProviderCustomerID     string                    `gorm:"type:varchar(191);default:'';index" json:"provider_customer_id"`
	Status                 BillingSubscriptionStatus `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart     *time.Time                `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time                `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt              time.Time                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time                 `gorm:"autoUpdateTime" json:"updated_at"`
}

// LifetimeSubscriptionKey builds the upsert key for a purchase without a
// provider subscription id.
func LifetimeSubscriptionKey(provider string, userID uint, planID string) string {
	return fmt.Sprintf("lifetime:%s:%d:%s", provider, userID, planID)
}
