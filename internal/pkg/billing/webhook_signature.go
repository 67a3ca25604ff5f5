package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/chloecircle/chloecircle/app/models"
)

const (
	StripeSignatureHeader = "Stripe-Signature"
	stripeSignatureField  = "v1"
)

// Verifier authenticates a raw webhook delivery and returns the decoded event.
type Verifier interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, header http.Header) (*Event, error)
}

// VerifyWebhookSignature checks a Stripe-style signature header against an
// HMAC-SHA256 of the raw payload and decodes the event envelope. Every v1
// value in the header is a candidate so secrets can be rotated with overlap.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string) (*Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, missingSetting(SettingStripeWebhookSecret)
	}
	candidates := signatureCandidates(signatureHeader, stripeSignatureField)
	if len(candidates) == 0 {
		return nil, ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, candidate := range candidates {
		sig, err := hex.DecodeString(strings.ToLower(candidate))
		if err != nil {
			continue
		}
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	return decodeStripeEvent(payload)
}

// signatureCandidates collects every value of field in a "k=v,k=v" header.
func signatureCandidates(header, field string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(key) != field {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// StripeVerifier verifies deliveries to the Stripe webhook endpoint.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier returns a verifier for the configured webhook secret.
func NewStripeVerifier(cfg *Config) (*StripeVerifier, error) {
	secret, err := cfg.Require(SettingStripeWebhookSecret)
	if err != nil {
		return nil, err
	}
	return &StripeVerifier{secret: secret}, nil
}

func (v *StripeVerifier) Provider() string {
	return models.BillingProviderStripe
}

func (v *StripeVerifier) Verify(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	return VerifyWebhookSignature(payload, header.Get(StripeSignatureHeader), v.secret)
}
