package statistics

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/cache"
)

const (
	CacheKeyBillingSummary = "statistics:billing:summary"
	CacheExpiration        = 5 * time.Minute
	revenueWindow          = 30 * 24 * time.Hour
)

// BillingSummary is the admin overview of subscribers and revenue.
type BillingSummary struct {
	TotalUsers           int64           `json:"total_users"`
	MonthlySubscribers   int64           `json:"monthly_subscribers"`
	YearlySubscribers    int64           `json:"yearly_subscribers"`
	LifetimeMembers      int64           `json:"lifetime_members"`
	ActiveSubscriptions  int64           `json:"active_subscriptions"`
	PastDueSubscriptions int64           `json:"past_due_subscriptions"`
	Revenue30d           decimal.Decimal `json:"revenue_30d"`
	FailedPayments30d    int64           `json:"failed_payments_30d"`
	PendingWebhooks      int64           `json:"pending_webhooks"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// GetBillingSummary returns the cached summary, computing and caching it
// when the cache is empty or unreachable.
func GetBillingSummary(db *gorm.DB) (*BillingSummary, error) {
	if val, err := cache.Get(CacheKeyBillingSummary); err == nil {
		var s BillingSummary
		if err := json.Unmarshal([]byte(val), &s); err == nil {
			return &s, nil
		}
	}
	return UpdateBillingSummary(db)
}

// UpdateBillingSummary recomputes the summary and stores it in the cache.
func UpdateBillingSummary(db *gorm.DB) (*BillingSummary, error) {
	s, err := computeBillingSummary(db, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(s)
	if err == nil {
		err = cache.Set(CacheKeyBillingSummary, string(raw), CacheExpiration)
	}
	if err != nil {
		log.Printf("Error caching billing summary: %v", err)
	}
	return s, nil
}

// InvalidateBillingSummary drops the cached summary.
func InvalidateBillingSummary() error {
	return cache.Delete(CacheKeyBillingSummary)
}

func computeBillingSummary(db *gorm.DB, now time.Time) (*BillingSummary, error) {
	s := &BillingSummary{GeneratedAt: now}

	if err := db.Model(&models.User{}).Count(&s.TotalUsers).Error; err != nil {
		return nil, err
	}

	type statusCount struct {
		SubscriptionStatus models.SubscriptionStatus
		N                  int64
	}
	var byStatus []statusCount
	err := db.Model(&models.User{}).
		Select("subscription_status, COUNT(*) AS n").
		Where("subscription_status = ? OR subscription_expires > ?", models.SubscriptionLifetime, now).
		Group("subscription_status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		switch row.SubscriptionStatus {
		case models.SubscriptionMonthly:
			s.MonthlySubscribers = row.N
		case models.SubscriptionYearly:
			s.YearlySubscribers = row.N
		case models.SubscriptionLifetime:
			s.LifetimeMembers = row.N
		}
	}

	if err := db.Model(&models.BillingSubscription{}).Where("status = ?", models.BillingStatusActive).Count(&s.ActiveSubscriptions).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.BillingSubscription{}).Where("status = ?", models.BillingStatusPastDue).Count(&s.PastDueSubscriptions).Error; err != nil {
		return nil, err
	}

	since := now.Add(-revenueWindow)
	var payments []models.PaymentRecord
	if err := db.Select("amount").Where("status = ? AND created_at >= ?", models.PaymentSucceeded, since).Find(&payments).Error; err != nil {
		return nil, err
	}
	s.Revenue30d = decimal.Zero
	for _, p := range payments {
		s.Revenue30d = s.Revenue30d.Add(p.Amount)
	}
	if err := db.Model(&models.PaymentRecord{}).Where("status = ? AND created_at >= ?", models.PaymentFailed, since).Count(&s.FailedPayments30d).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.BillingWebhookEvent{}).Where("processed = ?", false).Count(&s.PendingWebhooks).Error; err != nil {
		return nil, err
	}

	log.Printf("Billing summary updated: users=%d active=%d revenue_30d=%s pending_webhooks=%d",
		s.TotalUsers, s.ActiveSubscriptions, s.Revenue30d.StringFixed(2), s.PendingWebhooks)
	return s, nil
}
