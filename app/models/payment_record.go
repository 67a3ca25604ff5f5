package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRecord is an append-only ledger row. It is never updated after insert.
type PaymentRecord struct {
	ID                      uint            `gorm:"primaryKey" json:"id"`
	UserID                  uint            `gorm:"not null;index" json:"user_id"`
	SubscriptionID          *uint           `gorm:"index;default:null" json:"subscription_id,omitempty"`
	Provider                string          `gorm:"type:varchar(20);not null;index" json:"provider"`
	Amount                  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency                string          `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Status                  PaymentStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	ProviderPaymentIntentID string          `gorm:"type:varchar(191);default:'';index" json:"provider_payment_intent_id"`
	Description             string          `gorm:"type:varchar(255);default:''" json:"description"`
	Metadata                datatypes.JSON  `gorm:"type:json" json:"metadata"`
	CreatedAt               time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
