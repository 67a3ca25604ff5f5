package router

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/controllers"
	"github.com/chloecircle/chloecircle/internal/pkg/billing"
	"github.com/chloecircle/chloecircle/internal/pkg/cache"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	DB        *gorm.DB
	Billing   *billing.Service
	TierCache *cache.AccessTierCache
	// Views counts post reads; nil disables counting.
	Views controllers.ViewCounter
	// RateLimit is the per-IP request budget per minute on /api.
	RateLimit int
}

func InstallRouter(app *fiber.App, deps Deps) {
	// HttpRouter installs the session store and the global UserContext
	// middleware the API routes rely on, so it goes first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
