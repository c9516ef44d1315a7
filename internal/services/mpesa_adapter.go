package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
)

// MpesaAdapter normalizes Daraja C2B confirmation callbacks. The paybill
// layer is tenant-agnostic, so notices carry no routing hint and tenant
// resolution is deferred to the account matcher. Authenticity is enforced at
// the network layer (callback URL allow-listing), not per payload.
type MpesaAdapter struct {
	cfg *config.PipelineConfig
}

// mpesaConfirmation mirrors the Daraja C2B callback shape. TransAmount
// arrives as a string or number depending on the simulator, and MSISDN is
// masked for privacy (e.g. "2547 ***** 126").
type mpesaConfirmation struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       any    `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
	MiddleName        string `json:"MiddleName"`
	LastName          string `json:"LastName"`
}

func NewMpesaAdapter(cfg *config.PipelineConfig) *MpesaAdapter {
	return &MpesaAdapter{cfg: cfg}
}

func (a *MpesaAdapter) Name() string   { return "MPESA" }
func (a *MpesaAdapter) Source() string { return models.SourceMpesa }

func (a *MpesaAdapter) Normalize(payload []byte) (*models.PaymentNotice, error) {
	var body mpesaConfirmation
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if body.TransID == "" || body.BillRefNumber == "" {
		return nil, fmt.Errorf("%w: missing TransID or BillRefNumber", ErrMalformedPayload)
	}

	amount, err := parseAmount(body.TransAmount)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(strings.Join(nonEmpty(body.FirstName, body.MiddleName, body.LastName), " "))
	if name == "" {
		name = "Unknown"
	}

	return &models.PaymentNotice{
		Source:        models.SourceMpesa,
		TransactionID: body.TransID,
		Amount:        amount,
		Reference:     cleanReference(body.BillRefNumber),
		RoutingHint:   body.BusinessShortCode,
		PaidBy:        name,
		PhoneNumber:   normalizePhone(a.cfg, body.MSISDN),
		OccurredAt:    parseDarajaTime(body.TransTime),
		RawPayload:    json.RawMessage(payload),
	}, nil
}

// VerifySignature is a no-op: Daraja callbacks carry no signature.
func (a *MpesaAdapter) VerifySignature(payload []byte, signature, secret string) error {
	return nil
}

// parseDarajaTime parses the yyyymmddHHMMSS TransTime format, falling back to
// the receipt time when the field is absent or garbled.
func parseDarajaTime(s string) time.Time {
	if t, err := time.Parse("20060102150405", s); err == nil {
		return t
	}
	return time.Now()
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
