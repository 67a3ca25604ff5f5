package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/statistics"
)

const (
	adminBillingDefaultLimit = 50
	adminBillingMaxLimit     = 200
)

// AdminBillingController exposes read-only billing listings to admins
type AdminBillingController struct {
	db    *gorm.DB
	repos *repository.Repositories
}

// NewAdminBillingController creates a new admin billing controller with repository dependencies
func NewAdminBillingController(db *gorm.DB, repos *repository.Repositories) *AdminBillingController {
	return &AdminBillingController{
		db:    db,
		repos: repos,
	}
}

// HandleSummary returns subscriber counts and recent revenue.
// refresh=true bypasses the cached summary.
func (ac *AdminBillingController) HandleSummary(c *fiber.Ctx) error {
	get := statistics.GetBillingSummary
	if c.QueryBool("refresh", false) {
		get = statistics.UpdateBillingSummary
	}
	summary, err := get(ac.db)
	if err != nil {
		return ac.handleError(c, "Failed to build billing summary", err)
	}
	return c.JSON(summary)
}

// filter builds a BillingFilter from user_id, provider, status and paging query parameters.
func (ac *AdminBillingController) filter(c *fiber.Ctx) (repository.BillingFilter, int, int) {
	page, limit := pagination(c, adminBillingDefaultLimit, adminBillingMaxLimit)
	userID := c.QueryInt("user_id", 0)
	if userID < 0 {
		userID = 0
	}
	return repository.BillingFilter{
		UserID:      uint(userID),
		Provider:    c.Query("provider"),
		Status:      c.Query("status"),
		Unprocessed: c.QueryBool("unprocessed", false),
		Offset:      (page - 1) * limit,
		Limit:       limit,
	}, page, limit
}

// HandlePayments lists payment records, newest first.
func (ac *AdminBillingController) HandlePayments(c *fiber.Ctx) error {
	filter, page, limit := ac.filter(c)
	items, total, err := ac.repos.Billing.ListPayments(filter)
	if err != nil {
		return ac.handleError(c, "Failed to list payments", err)
	}
	return c.JSON(fiber.Map{"items": items, "total": total, "page": page, "limit": limit})
}

// HandleSubscriptions lists provider subscriptions.
func (ac *AdminBillingController) HandleSubscriptions(c *fiber.Ctx) error {
	filter, page, limit := ac.filter(c)
	items, total, err := ac.repos.Billing.ListSubscriptions(filter)
	if err != nil {
		return ac.handleError(c, "Failed to list subscriptions", err)
	}
	return c.JSON(fiber.Map{"items": items, "total": total, "page": page, "limit": limit})
}

// HandleWebhookEvents lists ledger entries; unprocessed=true shows the retry backlog.
func (ac *AdminBillingController) HandleWebhookEvents(c *fiber.Ctx) error {
	filter, page, limit := ac.filter(c)
	items, total, err := ac.repos.Billing.ListWebhookEvents(filter)
	if err != nil {
		return ac.handleError(c, "Failed to list webhook events", err)
	}
	return c.JSON(fiber.Map{"items": items, "total": total, "page": page, "limit": limit})
}

func (ac *AdminBillingController) handleError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[Admin] %s: %v", message, err)
	return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", message)
}
