package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/chloecircle/chloecircle/app/controllers"
	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/middleware"
)

const defaultRateLimit = 60

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.deps.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	repos := repository.NewRepositories(h.deps.DB)

	auth := controllers.NewAuthController(repos)
	api.Post("/auth/register", auth.HandleRegister)
	api.Post("/auth/login", auth.HandleLogin)
	api.Post("/auth/logout", auth.HandleLogout)
	api.Get("/auth/me", auth.HandleMe)

	posts := controllers.NewPostController(repos, h.deps.Views)
	api.Get("/posts", posts.HandleList)
	api.Get("/posts/:id", posts.HandleShow)

	billingController := controllers.NewBillingController(h.deps.Billing, repos)
	api.Get("/billing/plans", billingController.HandleListPlans)
	api.Post("/billing/checkout", middleware.RequireAPISessionAuth, billingController.HandleCreateCheckout)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
