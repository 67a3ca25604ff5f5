package repository

import (
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Exists(name, email string) (bool, error)
	TouchLastLogin(id uint) error
}

// SettingRepository defines the interface for application settings
type SettingRepository interface {
	Get() (*models.AppSettings, error)
	Save(settings *models.AppSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// PlanRepository defines read access to the subscription catalog
type PlanRepository interface {
	GetByID(id string) (*models.SubscriptionPlan, error)
	ListActive() ([]models.SubscriptionPlan, error)
	Save(plan *models.SubscriptionPlan) error
}

// PostRepository defines the interface for post-related operations
type PostRepository interface {
	Create(post *models.Post) error
	GetByID(id uint) (*models.Post, error)
	List(offset, limit int) ([]models.Post, error)
	Count() (int64, error)
}

// BillingRepository exposes the billing tables to admin tooling
type BillingRepository interface {
	ListPayments(filter BillingFilter) ([]models.PaymentRecord, int64, error)
	ListSubscriptions(filter BillingFilter) ([]models.BillingSubscription, int64, error)
	ListWebhookEvents(filter BillingFilter) ([]models.BillingWebhookEvent, int64, error)
}

// BillingFilter narrows admin billing listings. Zero values mean "any".
type BillingFilter struct {
	UserID   uint
	Provider string
	Status   string
	// Unprocessed limits webhook events to ones still awaiting reconciliation.
	Unprocessed bool
	Offset      int
	Limit       int
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Setting SettingRepository
	Plan    PlanRepository
	Post    PostRepository
	Billing BillingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Setting: NewSettingRepository(db),
		Plan:    NewPlanRepository(db),
		Post:    NewPostRepository(db),
		Billing: NewBillingRepository(db),
	}
}
