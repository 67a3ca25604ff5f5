package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/entitlements"
	"github.com/chloecircle/chloecircle/internal/pkg/middleware"
	"github.com/chloecircle/chloecircle/internal/pkg/session"
	"github.com/chloecircle/chloecircle/internal/pkg/testutil"
)

type testEnv struct {
	db    *gorm.DB
	repos *repository.Repositories
	app   *fiber.App
}

// newTestEnv builds an app with the session and user context middleware
// installed. /test/login/:id logs a user in without credentials.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	repos := repository.NewRepositories(db)

	session.NewMemorySessionStore()
	t.Cleanup(func() { session.SetSessionStore(nil) })

	app := fiber.New()
	app.Get("/test/login/:id", func(c *fiber.Ctx) error {
		id, _ := c.ParamsInt("id")
		return session.Login(c, uint(id))
	})
	app.Use(middleware.UserContextMiddleware(repos.User, entitlements.NewService(repos.User, nil)))
	return &testEnv{db: db, repos: repos, app: app}
}

func (e *testEnv) login(t *testing.T, userID uint) *http.Cookie {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, "/test/login/"+strconv.Itoa(int(userID)), nil))
	require.NoError(t, err)
	return sessionCookie(t, resp)
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, ck := range resp.Cookies() {
		if ck.Name == "session_id" {
			return &http.Cookie{Name: ck.Name, Value: ck.Value}
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, ck *http.Cookie, header http.Header) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if ck != nil {
		req.AddCookie(ck)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type recordingCounter struct {
	views []uint
	err   error
}

func (r *recordingCounter) AddPostView(_ context.Context, postID uint) error {
	r.views = append(r.views, postID)
	return r.err
}
