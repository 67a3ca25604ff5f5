package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/internal/pkg/entitlements"
	"github.com/chloecircle/chloecircle/internal/pkg/session"
	"github.com/chloecircle/chloecircle/internal/pkg/usercontext"
)

type stubUsers map[uint]*models.User

func (s stubUsers) GetByID(id uint) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type stubTiers struct {
	tier entitlements.Tier
	err  error
}

func (s stubTiers) TierForUser(context.Context, uint) (entitlements.Tier, error) {
	return s.tier, s.err
}

func newApp(t *testing.T, users UserLoader, tiers TierSource) *fiber.App {
	t.Helper()
	session.NewMemorySessionStore()
	t.Cleanup(func() { session.SetSessionStore(nil) })

	app := fiber.New()
	app.Get("/login/:id", func(c *fiber.Ctx) error {
		id, _ := c.ParamsInt("id")
		return session.Login(c, uint(id))
	})
	app.Use(UserContextMiddleware(users, tiers))
	app.Get("/ctx", func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	app.Get("/api/me", RequireAPISessionAuth, func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/api/admin", RequireAPIAdmin, func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func login(t *testing.T, app *fiber.App, id string) *http.Cookie {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/login/"+id, nil))
	require.NoError(t, err)
	for _, ck := range resp.Cookies() {
		if ck.Name == "session_id" {
			return &http.Cookie{Name: ck.Name, Value: ck.Value}
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func get(t *testing.T, app *fiber.App, path string, ck *http.Cookie) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if ck != nil {
		req.AddCookie(ck)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func decodeContext(t *testing.T, resp *http.Response) usercontext.UserContext {
	t.Helper()
	var uc usercontext.UserContext
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uc))
	return uc
}

func TestUserContextMiddleware_Anonymous(t *testing.T) {
	app := newApp(t, stubUsers{}, stubTiers{tier: entitlements.TierPremium})

	uc := decodeContext(t, get(t, app, "/ctx", nil))
	assert.False(t, uc.IsLoggedIn)
	assert.Equal(t, entitlements.TierFree, uc.Tier)
}

func TestUserContextMiddleware_LoggedIn(t *testing.T) {
	users := stubUsers{
		7: {ID: 7, Name: "reader", Role: models.RoleUser, Status: models.STATUS_ACTIVE},
	}
	app := newApp(t, users, stubTiers{tier: entitlements.TierPremium})
	ck := login(t, app, "7")

	uc := decodeContext(t, get(t, app, "/ctx", ck))
	assert.True(t, uc.IsLoggedIn)
	assert.Equal(t, uint(7), uc.UserID)
	assert.Equal(t, "reader", uc.Username)
	assert.False(t, uc.IsAdmin)
	assert.Equal(t, entitlements.TierPremium, uc.Tier)
}

func TestUserContextMiddleware_TierFallback(t *testing.T) {
	future := time.Now().Add(48 * time.Hour)
	users := stubUsers{
		7: {ID: 7, Name: "reader", Status: models.STATUS_ACTIVE, SubscriptionStatus: models.SubscriptionMonthly, SubscriptionExpires: &future},
	}
	app := newApp(t, users, stubTiers{err: errors.New("redis down")})
	ck := login(t, app, "7")

	uc := decodeContext(t, get(t, app, "/ctx", ck))
	assert.Equal(t, entitlements.TierPremium, uc.Tier)
}

func TestUserContextMiddleware_StaleSession(t *testing.T) {
	users := stubUsers{
		8: {ID: 8, Name: "banned", Status: models.STATUS_DISABLED},
	}
	app := newApp(t, users, stubTiers{tier: entitlements.TierFree})

	for _, id := range []string{"8", "99"} {
		ck := login(t, app, id)
		uc := decodeContext(t, get(t, app, "/ctx", ck))
		assert.False(t, uc.IsLoggedIn, "user %s", id)
	}
}

func TestGuards(t *testing.T) {
	users := stubUsers{
		1: {ID: 1, Name: "admin", Role: models.RoleAdmin, Status: models.STATUS_ACTIVE},
		2: {ID: 2, Name: "reader", Role: models.RoleUser, Status: models.STATUS_ACTIVE},
	}
	app := newApp(t, users, stubTiers{tier: entitlements.TierFree})
	admin := login(t, app, "1")
	reader := login(t, app, "2")

	tests := []struct {
		name   string
		path   string
		cookie *http.Cookie
		status int
		code   string
	}{
		{"anonymous api", "/api/me", nil, fiber.StatusUnauthorized, "unauthorized"},
		{"reader api", "/api/me", reader, fiber.StatusOK, ""},
		{"anonymous api admin", "/api/admin", nil, fiber.StatusUnauthorized, "unauthorized"},
		{"reader api admin", "/api/admin", reader, fiber.StatusForbidden, "forbidden"},
		{"admin api admin", "/api/admin", admin, fiber.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, app, tt.path, tt.cookie)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("Location"))
			if tt.code != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.code, body["error"])
			}
		})
	}
}
