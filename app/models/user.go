package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	// RoleChloe is the content owner. It has admin reach plus authoring rights.
	RoleChloe Role = "chloe"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// SubscriptionStatus doubles as plan identifier and access tier on the user row.
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionMonthly  SubscriptionStatus = "monthly"
	SubscriptionYearly   SubscriptionStatus = "yearly"
	SubscriptionLifetime SubscriptionStatus = "lifetime"
)

type User struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	Name               string             `gorm:"type:varchar(150);uniqueIndex" json:"name" validate:"required,min=3,max=150"`
	Email              string             `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Password           string             `gorm:"type:text" json:"-" validate:"required,min=6,max=72"`
	Role               Role               `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin chloe"`
	Status             string             `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(20);not null;default:'none';index" json:"subscription_status"`
	SubscriptionExpires *time.Time        `gorm:"type:timestamp;default:null" json:"subscription_expires,omitempty"`
	// ProviderCustomerID is the Stripe customer id, written once on first checkout.
	ProviderCustomerID *string        `gorm:"type:varchar(191);uniqueIndex;default:null" json:"-"`
	LastLoginAt        *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// CreateUser validates the plain input and returns an unsaved user with the
// password hashed.
func CreateUser(username string, email string, password string) (*User, error) {
	u := &User{
		Name:               username,
		Email:              email,
		Password:           password,
		Role:               RoleUser,
		Status:             STATUS_ACTIVE,
		SubscriptionStatus: SubscriptionNone,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u.Password = pw

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// IsPrivileged reports whether the role bypasses subscription gating.
func (u *User) IsPrivileged() bool {
	return u.Role == RoleAdmin || u.Role == RoleChloe
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// CustomerID returns the stored provider customer id or "".
func (u *User) CustomerID() string {
	if u.ProviderCustomerID == nil {
		return ""
	}
	return *u.ProviderCustomerID
}

// SubscriptionColumns returns the column updates that move a user to status s.
// Lifetime always clears the expiry so the two columns never disagree.
func SubscriptionColumns(s SubscriptionStatus, expires *time.Time) map[string]interface{} {
	if s == SubscriptionLifetime || s == SubscriptionNone {
		expires = nil
	}
	return map[string]interface{}{
		"subscription_status":  s,
		"subscription_expires": expires,
	}
}
