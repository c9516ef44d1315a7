package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
)

// Pipeline error taxonomy. Provider-facing handlers translate these into
// channel-specific acknowledgments; operator-facing handlers propagate them.
var (
	ErrInvalidSignature     = errors.New("signature mismatch")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrDuplicateTransaction = errors.New("transaction already processed")
	ErrTenantNotConfigured  = errors.New("no tenant configured for channel")
	ErrAlreadyReversed      = errors.New("transaction already reversed")
)

// ProviderAdapter translates one payment channel's wire format into a
// normalized PaymentNotice. Signature verification is separate from
// normalization because bank secrets are tenant-scoped and only known after
// the routing hint has been resolved.
type ProviderAdapter interface {
	Name() string
	Source() string
	Normalize(payload []byte) (*models.PaymentNotice, error)
	VerifySignature(payload []byte, signature, secret string) error
}

// AdapterRegistry resolves webhook provider names to adapters.
type AdapterRegistry struct {
	adapters map[string]ProviderAdapter
}

func NewAdapterRegistry(cfg *config.PipelineConfig) *AdapterRegistry {
	r := &AdapterRegistry{adapters: map[string]ProviderAdapter{}}
	for _, a := range []ProviderAdapter{
		NewEquityAdapter(cfg),
		NewKCBAdapter(cfg),
		NewCoopAdapter(cfg),
	} {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *AdapterRegistry) Get(provider string) (ProviderAdapter, error) {
	a, ok := r.adapters[strings.ToUpper(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("unsupported bank provider: %s", provider)
	}
	return a, nil
}

// cleanReference normalizes a payer-typed reference for matching.
func cleanReference(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}

// parseAmount coerces a provider amount field, arriving either as a JSON
// number or a string, into a positive float.
func parseAmount(raw any) (float64, error) {
	var amount float64
	switch v := raw.(type) {
	case float64:
		amount = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: non-numeric amount %q", ErrMalformedPayload, v)
		}
		amount = parsed
	case nil:
		return 0, fmt.Errorf("%w: missing amount", ErrMalformedPayload)
	default:
		return 0, fmt.Errorf("%w: unsupported amount type %T", ErrMalformedPayload, raw)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrMalformedPayload)
	}
	return amount, nil
}

// normalizePhone returns a country-code-prefixed, fixed-length number, or nil
// when the provider delivered a masked or malformed value. A masked value is
// never stored verbatim.
func normalizePhone(cfg *config.PipelineConfig, raw string) *string {
	if raw == "" || strings.Contains(raw, cfg.MaskMarker) {
		return nil
	}
	clean := strings.ReplaceAll(raw, " ", "")
	if !strings.HasPrefix(clean, cfg.PhonePrefix) || len(clean) != cfg.PhoneLength {
		return nil
	}
	for _, c := range clean {
		if c < '0' || c > '9' {
			return nil
		}
	}
	return &clean
}

// verifyHMAC recomputes an HMAC-SHA256 over the raw body and compares it in
// constant time against the out-of-band signature.
func verifyHMAC(payload []byte, signature, secret string, b64 bool) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	var expected string
	if b64 {
		expected = base64.StdEncoding.EncodeToString(h.Sum(nil))
	} else {
		expected = hex.EncodeToString(h.Sum(nil))
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
