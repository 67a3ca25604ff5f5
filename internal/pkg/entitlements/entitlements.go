package entitlements

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/cache"
)

// Tier is the access level used to gate content.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	// TierStaff is granted by role and never expires.
	TierStaff Tier = "staff"
)

// AccessTierFor computes the tier from the user row alone. A recurring
// subscription past its expiry is free until a webhook extends it.
func AccessTierFor(u *models.User, now time.Time) Tier {
	if u == nil {
		return TierFree
	}
	if u.IsPrivileged() {
		return TierStaff
	}
	switch u.SubscriptionStatus {
	case models.SubscriptionLifetime:
		return TierPremium
	case models.SubscriptionMonthly, models.SubscriptionYearly:
		if u.SubscriptionExpires != nil && now.Before(*u.SubscriptionExpires) {
			return TierPremium
		}
	}
	return TierFree
}

// validFor returns how long the computed tier stays correct without a write.
// Zero means no natural expiry.
func validFor(u *models.User, now time.Time) time.Duration {
	if u == nil || u.SubscriptionExpires == nil || u.IsPrivileged() {
		return 0
	}
	if d := u.SubscriptionExpires.Sub(now); d > 0 {
		return d
	}
	return 0
}

// CanRead reports whether tier may read post.
func (t Tier) CanRead(post *models.Post) bool {
	if post == nil || !post.Premium {
		return true
	}
	return t == TierPremium || t == TierStaff
}

// UserLoader loads users by id.
type UserLoader interface {
	GetByID(id uint) (*models.User, error)
}

// Service serves tiers through the access tier cache.
type Service struct {
	users UserLoader
	cache *cache.AccessTierCache
	now   func() time.Time
}

// NewService creates a tier service. tierCache may be nil to always compute.
func NewService(users UserLoader, tierCache *cache.AccessTierCache) *Service {
	return &Service{users: users, cache: tierCache, now: time.Now}
}

// TierForUser returns the tier for userID; 0 is an anonymous visitor.
// Cache failures fall back to the database.
func (s *Service) TierForUser(ctx context.Context, userID uint) (Tier, error) {
	if userID == 0 {
		return TierFree, nil
	}
	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			log.Warnf("[Entitlements] cache read for user %d failed: %v", userID, err)
		} else if ok {
			return Tier(v), nil
		}
	}

	u, err := s.users.GetByID(userID)
	if err != nil {
		return TierFree, err
	}
	now := s.now()
	tier := AccessTierFor(u, now)
	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, string(tier), validFor(u, now)); err != nil {
			log.Warnf("[Entitlements] cache write for user %d failed: %v", userID, err)
		}
	}
	return tier, nil
}
