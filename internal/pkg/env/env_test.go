package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	old := Env
	t.Cleanup(func() { Env = old })

	Env = map[string]string{"STRIPE_SECRET_KEY": "from-file"}
	t.Setenv("STRIPE_SECRET_KEY", "from-os")
	t.Setenv("DB_HOST", "db")

	assert.Equal(t, "from-file", GetEnv("STRIPE_SECRET_KEY", ""))
	assert.Equal(t, "db", GetEnv("DB_HOST", "localhost"))
	assert.Equal(t, "fallback", GetEnv("NOT_SET_ANYWHERE", "fallback"))
}

func TestIsDev(t *testing.T) {
	old := Env
	t.Cleanup(func() { Env = old })

	Env = map[string]string{"APP_ENV": "dev"}
	assert.True(t, IsDev())

	Env = map[string]string{}
	t.Setenv("APP_ENV", "")
	assert.False(t, IsDev())
}
