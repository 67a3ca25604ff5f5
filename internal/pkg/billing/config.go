package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/chloecircle/chloecircle/internal/pkg/env"
)

// Setting keys read from the settings store. The upper-cased key is used as
// an environment fallback (stripe_secret_key -> STRIPE_SECRET_KEY).
const (
	SettingStripeSecretKey     = "stripe_secret_key"
	SettingStripeWebhookSecret = "stripe_webhook_secret"
	SettingStripeCurrency      = "stripe_currency"
	SettingPayPalClientID      = "paypal_client_id"
	SettingPayPalClientSecret  = "paypal_client_secret"
	SettingPayPalWebhookID     = "paypal_webhook_id"
	SettingPayPalMode          = "paypal_mode"
	SettingPayPalPlanMonthly   = "paypal_plan_id_monthly"
	SettingPayPalPlanYearly    = "paypal_plan_id_yearly"
	SettingCheckoutSuccessURL  = "checkout_success_url"
	SettingCheckoutCancelURL   = "checkout_cancel_url"
)

var configKeys = []string{
	SettingStripeSecretKey,
	SettingStripeWebhookSecret,
	SettingStripeCurrency,
	SettingPayPalClientID,
	SettingPayPalClientSecret,
	SettingPayPalWebhookID,
	SettingPayPalMode,
	SettingPayPalPlanMonthly,
	SettingPayPalPlanYearly,
	SettingCheckoutSuccessURL,
	SettingCheckoutCancelURL,
}

// SettingsSource supplies raw setting values by key. A missing key returns "".
type SettingsSource interface {
	GetValue(key string) (string, error)
}

// Config is the billing configuration resolved once per request. Components
// receive it at construction and never read settings on their own.
type Config struct {
	values map[string]string
}

// LoadConfig reads every billing key from src, falling back to the process
// environment. Missing keys are reported when a component requires them.
func LoadConfig(ctx context.Context, src SettingsSource) (*Config, error) {
	cfg := &Config{values: make(map[string]string, len(configKeys))}
	for _, key := range configKeys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := ""
		if src != nil {
			stored, err := src.GetValue(key)
			if err != nil {
				return nil, fmt.Errorf("failed to read setting %s: %w", key, err)
			}
			v = strings.TrimSpace(stored)
		}
		if v == "" {
			v = strings.TrimSpace(env.GetEnv(strings.ToUpper(key), ""))
		}
		cfg.values[key] = v
	}
	return cfg, nil
}

// NewConfig builds a Config from explicit values.
func NewConfig(values map[string]string) *Config {
	cfg := &Config{values: make(map[string]string, len(values))}
	for k, v := range values {
		cfg.values[k] = strings.TrimSpace(v)
	}
	return cfg
}

// Value returns the value for key, or "" when unset.
func (c *Config) Value(key string) string {
	if c == nil {
		return ""
	}
	return c.values[key]
}

// Require returns the value for key or an ErrConfiguration naming the key.
func (c *Config) Require(key string) (string, error) {
	v := c.Value(key)
	if v == "" {
		return "", missingSetting(key)
	}
	return v, nil
}

// Currency returns the lower-case checkout currency, defaulting to usd.
func (c *Config) Currency() string {
	if v := strings.ToLower(c.Value(SettingStripeCurrency)); v != "" {
		return v
	}
	return "usd"
}

// RedirectURLs returns the success and cancel URLs used by hosted checkout.
func (c *Config) RedirectURLs() (success, cancel string, err error) {
	if success, err = c.Require(SettingCheckoutSuccessURL); err != nil {
		return "", "", err
	}
	if cancel, err = c.Require(SettingCheckoutCancelURL); err != nil {
		return "", "", err
	}
	return success, cancel, nil
}
