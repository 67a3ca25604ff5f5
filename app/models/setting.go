package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting is a single key/value row. Provider credentials and checkout URLs
// live here next to the site settings.
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:191;not null;uniqueIndex" json:"key" validate:"required,min=1,max=191"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null;default:'string'" json:"type" validate:"oneof=string boolean secret"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings holds the site-wide switches read on every request.
type AppSettings struct {
	SiteTitle       string `json:"site_title" validate:"required,min=1,max=255"`
	SiteDescription string `json:"site_description" validate:"max=500"`
	CheckoutEnabled bool   `json:"checkout_enabled"`
}

var (
	appSettings = defaultAppSettings()
	settingsMu  sync.RWMutex
)

func defaultAppSettings() *AppSettings {
	return &AppSettings{
		SiteTitle:       "Chloe Circle",
		SiteDescription: "Members-only posts",
		CheckoutEnabled: true,
	}
}

// GetAppSettings returns a copy of the current application settings
func GetAppSettings() AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return *appSettings
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	var rows []Setting
	if err := db.Where("setting_key IN ?", []string{"site_title", "site_description", "checkout_enabled"}).
		Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s := defaultAppSettings()
	for _, row := range rows {
		switch row.Key {
		case "site_title":
			s.SiteTitle = row.Value
		case "site_description":
			s.SiteDescription = row.Value
		case "checkout_enabled":
			s.CheckoutEnabled = row.Value == "true"
		}
	}

	settingsMu.Lock()
	appSettings = s
	settingsMu.Unlock()
	return nil
}

// SaveSettings persists the site settings and swaps the in-memory copy.
func SaveSettings(db *gorm.DB, s AppSettings) error {
	if err := validator.New().Struct(&s); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	rows := []Setting{
		{Key: "site_title", Value: s.SiteTitle, Type: "string"},
		{Key: "site_description", Value: s.SiteDescription, Type: "string"},
		{Key: "checkout_enabled", Value: fmt.Sprintf("%t", s.CheckoutEnabled), Type: "boolean"},
	}
	for i := range rows {
		if err := UpsertSetting(db, &rows[i]); err != nil {
			return err
		}
	}

	settingsMu.Lock()
	appSettings = &s
	settingsMu.Unlock()
	return nil
}

// UpsertSetting writes a setting keyed by setting_key in one statement.
func UpsertSetting(db *gorm.DB, s *Setting) error {
	if s.Type == "" {
		s.Type = "string"
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "type", "updated_at"}),
	}).Create(s).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", s.Key, err)
	}
	return nil
}
