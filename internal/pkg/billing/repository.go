package billing

import (
	"context"
	"errors"
	"time"

	"github.com/chloecircle/chloecircle/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing components.
// Lookups return ErrNotFound instead of gorm.ErrRecordNotFound.
type Repository interface {
	UpsertWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) error
	IsWebhookProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkWebhookProcessed(ctx context.Context, provider, eventID string, at time.Time) error
	MarkWebhookFailed(ctx context.Context, provider, eventID, processingError string) error

	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetCustomerIDIfEmpty(ctx context.Context, userID uint, customerID string) (bool, error)
	UpdateUserSubscription(ctx context.Context, userID uint, status models.SubscriptionStatus, expires *time.Time) error
	ClearSubscriptionOwner(ctx context.Context, subscriptionKey string) error

	GetPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	GetPlanByCycle(ctx context.Context, cycle models.BillingCycle) (*models.SubscriptionPlan, error)
	FindPlanMapping(ctx context.Context, provider, priceID string) (*models.BillingPlanMapping, error)

	UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error
	InsertSubscriptionIfAbsent(ctx context.Context, sub *models.BillingSubscription) error
	GetSubscriptionByKey(ctx context.Context, key string) (*models.BillingSubscription, error)
	CancelSubscription(ctx context.Context, key string) error
	MarkSubscriptionPastDue(ctx context.Context, key string) (int64, error)

	CreatePaymentRecord(ctx context.Context, rec *models.PaymentRecord) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *gormRepository) UpsertWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) error {
	// processed is never touched by a redelivery.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"event_type",
			"payload_json",
			"updated_at",
		}),
	}).Create(event).Error
}

func (r *gormRepository) IsWebhookProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ? AND processed = ?", provider, eventID, true).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, provider, eventID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Updates(map[string]interface{}{
			"processed":        true,
			"processed_at":     &at,
			"processing_error": "",
		}).Error
}

func (r *gormRepository) MarkWebhookFailed(ctx context.Context, provider, eventID, processingError string) error {
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ? AND processed = ?", provider, eventID, false).
		Update("processing_error", processingError).Error
}

func (r *gormRepository) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *gormRepository) GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("provider_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// SetCustomerIDIfEmpty writes the customer id only while the column is NULL.
// It reports whether this call won the write.
func (r *gormRepository) SetCustomerIDIfEmpty(ctx context.Context, userID uint, customerID string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND provider_customer_id IS NULL", userID).
		Update("provider_customer_id", customerID)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) UpdateUserSubscription(ctx context.Context, userID uint, status models.SubscriptionStatus, expires *time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(models.SubscriptionColumns(status, expires)).Error
}

// ClearSubscriptionOwner resets the user that owns the given subscription row.
func (r *gormRepository) ClearSubscriptionOwner(ctx context.Context, subscriptionKey string) error {
	db := r.db.WithContext(ctx)
	owner := db.Model(&models.BillingSubscription{}).
		Select("user_id").
		Where("subscription_key = ?", subscriptionKey)
	return db.Model(&models.User{}).
		Where("id = (?)", owner).
		Updates(models.SubscriptionColumns(models.SubscriptionNone, nil)).Error
}

func (r *gormRepository) GetPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

func (r *gormRepository) GetPlanByCycle(ctx context.Context, cycle models.BillingCycle) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("billing_cycle = ? AND active = ?", cycle, true).
		Order("id").
		First(&plan).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

func (r *gormRepository) FindPlanMapping(ctx context.Context, provider, priceID string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_price_id = ? AND is_active = ?", provider, priceID, true).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id",
			"provider_customer_id",
			"status",
			"current_period_start",
			"current_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return db.Where("subscription_key = ?", sub.SubscriptionKey).First(sub).Error
}

func (r *gormRepository) InsertSubscriptionIfAbsent(ctx context.Context, sub *models.BillingSubscription) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_key"}},
		DoNothing: true,
	}).Create(sub).Error; err != nil {
		return err
	}
	return db.Where("subscription_key = ?", sub.SubscriptionKey).First(sub).Error
}

func (r *gormRepository) GetSubscriptionByKey(ctx context.Context, key string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	if err := r.db.WithContext(ctx).Where("subscription_key = ?", key).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (r *gormRepository) CancelSubscription(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Model(&models.BillingSubscription{}).
		Where("subscription_key = ?", key).
		Update("status", models.BillingStatusCanceled).Error
}

// MarkSubscriptionPastDue moves a live subscription to past_due. Canceled rows
// are terminal and left alone.
func (r *gormRepository) MarkSubscriptionPastDue(ctx context.Context, key string) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.BillingSubscription{}).
		Where("subscription_key = ? AND status <> ?", key, models.BillingStatusCanceled).
		Update("status", models.BillingStatusPastDue)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) CreatePaymentRecord(ctx context.Context, rec *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}
