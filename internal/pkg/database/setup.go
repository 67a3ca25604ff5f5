package database

import (
	"fmt"
	"log"
	"time"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the process-wide database handle set by SetupDatabase.
var DB *gorm.DB

// GetDB returns the process-wide database handle.
func GetDB() *gorm.DB {
	if DB == nil {
		panic("database not initialized. Call SetupDatabase first.")
	}
	return DB
}

// Migrate creates or updates every table the application owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.Setting{},
		&models.SubscriptionPlan{},
		&models.BillingSubscription{},
		&models.PaymentRecord{},
		&models.BillingWebhookEvent{},
		&models.BillingPlanMapping{},
	)
}

func SetupDatabase() {
	var err error
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{})
		if err == nil {
			if err = Migrate(DB); err != nil {
				log.Printf("Auto migration failed: %v", err)
				panic(err)
			}
			if err = models.LoadSettings(DB); err != nil {
				log.Printf("Loading settings failed: %v", err)
			}
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retry in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}
