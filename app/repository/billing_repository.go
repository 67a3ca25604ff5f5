package repository

import (
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/models"
)

const (
	defaultBillingPageSize = 50
	maxBillingPageSize     = 200
)

type billingRepository struct {
	db *gorm.DB
}

// NewBillingRepository creates the admin billing repository
func NewBillingRepository(db *gorm.DB) BillingRepository {
	return &billingRepository{db: db}
}

func (f BillingFilter) page() (int, int) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultBillingPageSize
	}
	if limit > maxBillingPageSize {
		limit = maxBillingPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

func (f BillingFilter) apply(q *gorm.DB) *gorm.DB {
	if f.UserID > 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// ListPayments returns payment records newest first plus the total count
func (r *billingRepository) ListPayments(filter BillingFilter) ([]models.PaymentRecord, int64, error) {
	var total int64
	if err := filter.apply(r.db.Model(&models.PaymentRecord{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := filter.page()
	var out []models.PaymentRecord
	err := filter.apply(r.db).Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// ListSubscriptions returns subscription rows most recently updated first
func (r *billingRepository) ListSubscriptions(filter BillingFilter) ([]models.BillingSubscription, int64, error) {
	var total int64
	if err := filter.apply(r.db.Model(&models.BillingSubscription{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := filter.page()
	var out []models.BillingSubscription
	err := filter.apply(r.db).Order("updated_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// ListWebhookEvents returns ledger rows newest first. User and status
// filters do not apply to the ledger.
func (r *billingRepository) ListWebhookEvents(filter BillingFilter) ([]models.BillingWebhookEvent, int64, error) {
	scope := func(q *gorm.DB) *gorm.DB {
		if filter.Provider != "" {
			q = q.Where("provider = ?", filter.Provider)
		}
		if filter.Unprocessed {
			q = q.Where("processed = ?", false)
		}
		return q
	}
	var total int64
	if err := scope(r.db.Model(&models.BillingWebhookEvent{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := filter.page()
	var out []models.BillingWebhookEvent
	err := scope(r.db).Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}
