// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory SQLite database private to the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUser inserts an active user. customerID may be empty.
func CreateUser(t testing.TB, db *gorm.DB, id uint, name, customerID string) *models.User {
	t.Helper()

	u := &models.User{
		ID:                 id,
		Name:               name,
		Email:              name + "@example.com",
		Password:           "x",
		Role:               models.RoleUser,
		Status:             models.STATUS_ACTIVE,
		SubscriptionStatus: models.SubscriptionNone,
	}
	if customerID != "" {
		u.ProviderCustomerID = &customerID
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// SeedPlans inserts the standard catalog:
// monthly-plan 19.99, yearly-plan 199.99 and lifetime-plan 99.99.
func SeedPlans(t testing.TB, db *gorm.DB) {
	t.Helper()

	plans := []models.SubscriptionPlan{
		{ID: "monthly-plan", Name: "Monthly", BillingCycle: models.BillingCycleMonthly, Price: decimal.RequireFromString("19.99"), Active: true},
		{ID: "yearly-plan", Name: "Yearly", BillingCycle: models.BillingCycleYearly, Price: decimal.RequireFromString("199.99"), Active: true},
		{ID: "lifetime-plan", Name: "Lifetime", BillingCycle: models.BillingCycleLifetime, Price: decimal.RequireFromString("99.99"), Active: true},
	}
	require.NoError(t, db.Create(&plans).Error)
}

// Reload re-reads a user row.
func Reload(t testing.TB, db *gorm.DB, id uint) *models.User {
	t.Helper()

	var u models.User
	require.NoError(t, db.First(&u, id).Error)
	return &u
}
