package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// BillingCycle is the closed set of plan billing cycles.
type BillingCycle string

const (
	BillingCycleMonthly  BillingCycle = "monthly"
	BillingCycleYearly   BillingCycle = "yearly"
	BillingCycleLifetime BillingCycle = "lifetime"
)

// Recurring reports whether the cycle renews on its own.
func (c BillingCycle) Recurring() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// SubscriptionStatus returns the user-level status a purchase of this cycle grants.
func (c BillingCycle) SubscriptionStatus() SubscriptionStatus {
	switch c {
	case BillingCycleMonthly:
		return SubscriptionMonthly
	case BillingCycleYearly:
		return SubscriptionYearly
	case BillingCycleLifetime:
		return SubscriptionLifetime
	}
	return SubscriptionNone
}

// SubscriptionPlan is a catalog entry. Admin tooling owns it; billing only reads it.
type SubscriptionPlan struct {
	ID           string          `gorm:"primaryKey;type:varchar(64)" json:"id" validate:"required,max=64"`
	Name         string          `gorm:"type:varchar(150);not null" json:"name" validate:"required,max=150"`
	Description  string          `gorm:"type:text" json:"description"`
	BillingCycle BillingCycle    `gorm:"type:varchar(16);not null;index" json:"billing_cycle" validate:"oneof=monthly yearly lifetime"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Active       bool            `gorm:"default:true;index" json:"active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *SubscriptionPlan) Validate() error {
	return validator.New().Struct(p)
}
