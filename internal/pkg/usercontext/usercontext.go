package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chloecircle/chloecircle/internal/pkg/entitlements"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint              `json:"user_id"`
	Username   string            `json:"username"`
	IsLoggedIn bool              `json:"is_logged_in"`
	IsAdmin    bool              `json:"is_admin"`
	Tier       entitlements.Tier `json:"tier"`
}

// Anonymous is the context of a visitor without a session.
func Anonymous() UserContext {
	return UserContext{Tier: entitlements.TierFree}
}

// SetUserContext stores uc on the request together with the flat Locals
// the route guards read.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyFromProtected, uc.IsLoggedIn)
	c.Locals(KeyIsAdmin, uc.IsAdmin)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if uc, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return uc
	}
	return Anonymous()
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
