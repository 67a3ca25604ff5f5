package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// errorResponse writes the JSON error body shared by all API handlers.
func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

// pagination reads page and limit query parameters, 1-based and clamped.
func pagination(c *fiber.Ctx, defLimit, maxLimit int) (page, limit int) {
	page = c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit = c.QueryInt("limit", defLimit)
	if limit < 1 {
		limit = defLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// clientIP returns the caller address for log lines. Cloudflare and proxy
// headers win over the socket address.
func clientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if first, _, _ := strings.Cut(c.Get(fiber.HeaderXForwardedFor), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return c.IP()
}
