package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/billing"
	"github.com/chloecircle/chloecircle/internal/pkg/usercontext"
)

// BillingService is the part of billing.Service the HTTP layer needs.
type BillingService interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (*billing.DispatchResult, error)
	CreateCheckout(ctx context.Context, user *models.User, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	CapturePayPalOrder(ctx context.Context, orderID string) (string, error)
}

// BillingController serves provider webhooks and checkout initiation.
type BillingController struct {
	billing BillingService
	users   repository.UserRepository
	plans   repository.PlanRepository
}

// NewBillingController creates a billing controller
func NewBillingController(svc BillingService, repos *repository.Repositories) *BillingController {
	return &BillingController{
		billing: svc,
		users:   repos.User,
		plans:   repos.Plan,
	}
}

// HandleStripeWebhook receives Stripe event deliveries.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	return bc.handleWebhook(c, models.BillingProviderStripe)
}

// HandlePayPalWebhook receives PayPal event deliveries.
func (bc *BillingController) HandlePayPalWebhook(c *fiber.Ctx) error {
	return bc.handleWebhook(c, models.BillingProviderPayPal)
}

func (bc *BillingController) handleWebhook(c *fiber.Ctx, provider string) error {
	// The signature covers the exact bytes received
	payload := append([]byte(nil), c.BodyRaw()...)

	header := http.Header{}
	for k, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(k, v)
		}
	}

	res, err := bc.billing.HandleWebhook(c.UserContext(), provider, payload, header)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			log.Warnf("[Webhook] %s delivery from %s rejected: invalid signature", provider, clientIP(c))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_signature"})
		case errors.Is(err, billing.ErrInvalidPayload):
			log.Warnf("[Webhook] %s delivery from %s rejected: %v", provider, clientIP(c), err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_payload"})
		}
		eventID := ""
		if res != nil {
			eventID = res.EventID
		}
		log.Errorf("[Webhook] %s event %q failed: %v", provider, eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "server_error"})
	}

	return c.JSON(fiber.Map{"ok": true, "status": string(res.Status)})
}

// HandleCreateCheckout starts a hosted checkout for the logged-in user.
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "login required"})
	}

	if !models.GetAppSettings().CheckoutEnabled {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"success": false, "message": "checkout disabled"})
	}

	var req billing.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid request body"})
	}

	user, err := bc.users.GetByID(userCtx.UserID)
	if err != nil {
		log.Errorf("[Billing] Failed to load user %d for checkout: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "checkout unavailable"})
	}

	session, err := bc.billing.CreateCheckout(c.UserContext(), user, req)
	if err != nil {
		status, message := checkoutErrorResponse(err)
		if status == fiber.StatusInternalServerError {
			log.Errorf("[Billing] Checkout for user %d plan %q failed: %v", user.ID, req.PlanID, err)
		}
		return c.Status(status).JSON(fiber.Map{"success": false, "message": message})
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"session_id": session.ID,
		"url":        session.URL,
	})
}

func checkoutErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrPlanNotFound):
		return fiber.StatusNotFound, "plan not found"
	case errors.Is(err, billing.ErrInvalidPlan):
		return fiber.StatusBadRequest, "invalid plan"
	default:
		return fiber.StatusInternalServerError, "checkout unavailable"
	}
}

// HandlePayPalReturn captures an approved PayPal order when the buyer comes back.
func (bc *BillingController) HandlePayPalReturn(c *fiber.Ctx) error {
	orderID := strings.TrimSpace(c.Query("token"))
	if orderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "missing order token"})
	}
	// Subscriptions return with a subscription_id and need no capture
	if c.Query("subscription_id") != "" {
		return c.JSON(fiber.Map{"success": true, "status": "APPROVED"})
	}

	status, err := bc.billing.CapturePayPalOrder(c.UserContext(), orderID)
	if err != nil {
		log.Errorf("[Billing] PayPal capture of order %s failed: %v", orderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "capture failed"})
	}
	return c.JSON(fiber.Map{"success": true, "status": status})
}

// HandleListPlans returns the active catalog.
func (bc *BillingController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := bc.plans.ListActive()
	if err != nil {
		log.Errorf("[Billing] Failed to list plans: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plans")
	}
	return c.JSON(fiber.Map{"plans": plans})
}
