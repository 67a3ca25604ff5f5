package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/entitlements"
	"github.com/chloecircle/chloecircle/internal/pkg/session"
	"github.com/chloecircle/chloecircle/internal/pkg/usercontext"
)

// UserLoader loads the session's user.
type UserLoader interface {
	GetByID(id uint) (*models.User, error)
}

// TierSource resolves a user's access tier.
type TierSource interface {
	TierForUser(ctx context.Context, userID uint) (entitlements.Tier, error)
}

// UserContextMiddleware sets up the complete user context for every request.
// Sessions pointing at missing or disabled users are treated as anonymous.
func UserContextMiddleware(users UserLoader, tiers TierSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uc := usercontext.Anonymous()

		userID := session.UserID(c)
		if userID == 0 {
			usercontext.SetUserContext(c, uc)
			return c.Next()
		}

		user, err := users.GetByID(userID)
		if err != nil || !user.IsActive() {
			usercontext.SetUserContext(c, uc)
			return c.Next()
		}

		uc = usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			IsAdmin:    user.IsPrivileged(),
		}
		uc.Tier, err = tiers.TierForUser(c.UserContext(), user.ID)
		if err != nil {
			log.Warnf("[UserContext] tier lookup for user %d failed: %v", user.ID, err)
			uc.Tier = entitlements.AccessTierFor(user, time.Now())
		}
		usercontext.SetUserContext(c, uc)
		return c.Next()
	}
}
