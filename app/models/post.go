package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a piece of site content. Premium posts need a paid access tier.
type Post struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Title     string         `gorm:"type:varchar(255)" json:"title" validate:"required,min=3,max=255"`
	Body      string         `gorm:"type:text" json:"body" validate:"required"`
	Premium   bool           `gorm:"default:false;index" json:"premium"`
	ViewCount int64          `gorm:"not null;default:0" json:"view_count"`
	UserID    uint           `gorm:"index" json:"user_id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
