package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/session"
	"github.com/chloecircle/chloecircle/internal/pkg/statistics"
	"github.com/chloecircle/chloecircle/internal/pkg/usercontext"
)

// RegisterRequest is the JSON body of POST /api/auth/register
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=200"`
	Password string `json:"password" validate:"required,max=200"`
}

// AuthController issues and destroys session logins
type AuthController struct {
	users    repository.UserRepository
	validate *validator.Validate
}

// NewAuthController creates an auth controller
func NewAuthController(repos *repository.Repositories) *AuthController {
	return &AuthController{
		users:    repos.User,
		validate: validator.New(),
	}
}

// HandleLogin checks the credentials and binds the user to the session.
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := ac.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "email and password are required")
	}

	// notice: do not tell the caller which part of the login failed
	user, err := ac.users.GetByEmail(req.Email)
	if err != nil || !user.CheckPassword(req.Password) || !user.IsActive() {
		log.Infof("[Auth] Failed login for %s from %s", req.Email, clientIP(c))
		return errorResponse(c, fiber.StatusUnauthorized, "invalid_credentials", "There is a problem with the login process")
	}

	if err := session.Login(c, user.ID); err != nil {
		log.Errorf("[Auth] Failed to store session for user %d: %v", user.ID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create session")
	}
	if err := ac.users.TouchLastLogin(user.ID); err != nil {
		log.Warnf("[Auth] Failed to update last login for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user":    user,
	})
}

// HandleRegister creates an active account with no subscription.
func (ac *AuthController) HandleRegister(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Username), strings.TrimSpace(strings.ToLower(req.Email)), req.Password)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return errorResponse(c, fiber.StatusBadRequest, "validation_failed", verrs.Error())
		}
		log.Errorf("[Auth] Failed to prepare user: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create user")
	}

	taken, err := ac.users.Exists(user.Name, user.Email)
	if err != nil {
		log.Errorf("[Auth] Failed to check for existing user: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create user")
	}
	if taken {
		return errorResponse(c, fiber.StatusConflict, "user_exists", "username or email already registered")
	}

	if err := ac.users.Create(user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errorResponse(c, fiber.StatusConflict, "user_exists", "username or email already registered")
		}
		log.Errorf("[Auth] Failed to create user %s: %v", user.Name, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create user")
	}

	if err := statistics.InvalidateBillingSummary(); err != nil {
		log.Warnf("[Auth] Failed to invalidate billing summary: %v", err)
	}

	log.Infof("[Auth] Registered user %d (%s)", user.ID, user.Name)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user":    user,
	})
}

// HandleLogout ends the session. Anonymous callers get the same answer.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	if err := session.Logout(c); err != nil {
		log.Warnf("[Auth] Logout failed: %v", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleMe returns the request's user context.
func (ac *AuthController) HandleMe(c *fiber.Ctx) error {
	return c.JSON(usercontext.GetUserContext(c))
}
