package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chloecircle/chloecircle/app/models"
)

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// GetByID retrieves a plan by its slug
func (r *planRepository) GetByID(id string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListActive returns the purchasable plans ordered by price
func (r *planRepository) ListActive() ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := r.db.Where("active = ?", true).Order("price ASC").Find(&plans).Error
	return plans, err
}

// Save validates and upserts a plan. Active is always written so a plan
// can be deactivated.
func (r *planRepository) Save(plan *models.SubscriptionPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "billing_cycle", "price", "active", "updated_at"}),
	}).Create(plan).Error
	if err != nil {
		return err
	}
	// GORM skips a false bool that has a column default on insert.
	if !plan.Active {
		return r.db.Model(&models.SubscriptionPlan{}).Where("id = ?", plan.ID).Update("active", false).Error
	}
	return nil
}
