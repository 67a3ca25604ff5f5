package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/app/repository"
)

// AdminSettingsController reads and updates the site-wide switches
type AdminSettingsController struct {
	settings repository.SettingRepository
}

// NewAdminSettingsController creates a new admin settings controller
func NewAdminSettingsController(repos *repository.Repositories) *AdminSettingsController {
	return &AdminSettingsController{settings: repos.Setting}
}

// HandleSettings returns the current site settings
func (ac *AdminSettingsController) HandleSettings(c *fiber.Ctx) error {
	settings, err := ac.settings.Get()
	if err != nil {
		log.Errorf("[Admin] Failed to get settings: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to get settings")
	}
	return c.JSON(settings)
}

// HandleSettingsUpdate replaces the site settings. Fields left out of the
// body keep their current value.
func (ac *AdminSettingsController) HandleSettingsUpdate(c *fiber.Ctx) error {
	current, err := ac.settings.Get()
	if err != nil {
		log.Errorf("[Admin] Failed to get settings: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to get settings")
	}

	updated := *current
	if err := c.BodyParser(&updated); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}

	if err := ac.settings.Save(&updated); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return errorResponse(c, fiber.StatusBadRequest, "validation_failed", verrs.Error())
		}
		log.Errorf("[Admin] Failed to save settings: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to save settings")
	}

	log.Infof("[Admin] Settings updated: checkout_enabled=%t", updated.CheckoutEnabled)
	return c.JSON(models.GetAppSettings())
}
