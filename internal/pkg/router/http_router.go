package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chloecircle/chloecircle/app/controllers"
	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/entitlements"
	"github.com/chloecircle/chloecircle/internal/pkg/middleware"
	"github.com/chloecircle/chloecircle/internal/pkg/session"
)

type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session; tests install a memory store beforehand
	if session.GetSessionStore() == nil {
		session.NewSessionStore()
	}

	repos := repository.NewRepositories(h.deps.DB)

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware(repos.User, entitlements.NewService(repos.User, h.deps.TierCache)))

	billingController := controllers.NewBillingController(h.deps.Billing, repos)

	// Provider webhooks authenticate by signature, never by session
	webhooks := app.Group("/webhooks")
	webhooks.Post("/stripe", billingController.HandleStripeWebhook)
	webhooks.Post("/paypal", billingController.HandlePayPalWebhook)

	app.Get("/billing/paypal/return", billingController.HandlePayPalReturn)

	h.registerAdminRoutes(app, repos)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App, repos *repository.Repositories) {
	adminBilling := controllers.NewAdminBillingController(h.deps.DB, repos)

	adminGroup := app.Group("/admin", middleware.RequireAPIAdmin)
	adminGroup.Get("/billing/summary", adminBilling.HandleSummary)
	adminGroup.Get("/billing/payments", adminBilling.HandlePayments)
	adminGroup.Get("/billing/subscriptions", adminBilling.HandleSubscriptions)
	adminGroup.Get("/billing/webhook-events", adminBilling.HandleWebhookEvents)

	adminSettings := controllers.NewAdminSettingsController(repos)
	adminGroup.Get("/settings", adminSettings.HandleSettings)
	adminGroup.Put("/settings", adminSettings.HandleSettingsUpdate)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
