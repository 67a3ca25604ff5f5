package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/chloecircle/chloecircle/internal/pkg/cache"
	"github.com/chloecircle/chloecircle/internal/pkg/env"
)

// KeyUserID holds the authenticated user's id in the session.
const KeyUserID = "user_id"

var sessionStore *session.Store

func NewSessionStore() *session.Store {
	// Reuse the cache connection settings when the cache is already set up
	cacheClient := cache.GetClient()
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := 6379
	if p, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379")); err == nil {
		port = p
	}
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// Sessions live in database 1, the cache uses database 0
	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})

	sessionStore = session.New(config(storage))
	return sessionStore
}

// NewMemorySessionStore installs a store backed by fiber's in-process storage.
func NewMemorySessionStore() *session.Store {
	sessionStore = session.New(config(nil))
	return sessionStore
}

func config(storage fiber.Storage) session.Config {
	cfg := session.Config{
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:session_id",
	}
	if storage != nil {
		cfg.Storage = storage
	}
	return cfg
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetSessionStore replaces the active store.
func SetSessionStore(store *session.Store) {
	sessionStore = store
}

// Login binds userID to the caller's session, rotating the session id first.
func Login(c *fiber.Ctx, userID uint) error {
	sess, err := get(c)
	if err != nil {
		return err
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %w", err)
	}
	sess.Set(KeyUserID, userID)
	return sess.Save()
}

// Logout destroys the caller's session.
func Logout(c *fiber.Ctx) error {
	sess, err := get(c)
	if err != nil {
		return err
	}
	return sess.Destroy()
}

// UserID returns the session's user id, or 0 for anonymous callers.
func UserID(c *fiber.Ctx) uint {
	sess, err := get(c)
	if err != nil {
		return 0
	}
	if id, ok := sess.Get(KeyUserID).(uint); ok {
		return id
	}
	return 0
}

// SetSessionValue stores a key-value pair in the user's individual session
func SetSessionValue(c *fiber.Ctx, key string, value string) error {
	sess, err := get(c)
	if err != nil {
		return err
	}

	sess.Set(key, value)
	return sess.Save()
}

// GetSessionValue retrieves a value by key from the user's individual session
func GetSessionValue(c *fiber.Ctx, key string) string {
	sess, err := get(c)
	if err != nil {
		return ""
	}

	if strValue, ok := sess.Get(key).(string); ok {
		return strValue
	}
	return ""
}

func get(c *fiber.Ctx) (*session.Session, error) {
	if sessionStore == nil {
		return nil, fmt.Errorf("session store not initialized")
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}
