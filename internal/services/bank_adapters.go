package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
)

// Bank webhook adapters. Each bank delivers its own field names and signing
// scheme; all of them sign the raw request body with the tenant's API secret.

// EquityAdapter handles Jenga credit notifications. Signature: HMAC-SHA256,
// hex-encoded, in the X-Signature header.
type EquityAdapter struct {
	cfg *config.PipelineConfig
}

type equityNotification struct {
	TransactionReference string `json:"transactionReference"`
	Amount               any    `json:"amount"`
	MerchantAccount      string `json:"merchantAccount"`
	AccountNumber        string `json:"accountNumber"`
	SenderName           string `json:"senderName"`
	SenderMobile         string `json:"senderMobile"`
	Timestamp            string `json:"timestamp"`
}

func NewEquityAdapter(cfg *config.PipelineConfig) *EquityAdapter {
	return &EquityAdapter{cfg: cfg}
}

func (a *EquityAdapter) Name() string   { return models.ProviderEquity }
func (a *EquityAdapter) Source() string { return models.SourceBankTransfer }

func (a *EquityAdapter) Normalize(payload []byte) (*models.PaymentNotice, error) {
	var body equityNotification
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.TransactionReference == "" || body.AccountNumber == "" {
		return nil, fmt.Errorf("%w: missing transactionReference or accountNumber", ErrMalformedPayload)
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		return nil, err
	}
	return &models.PaymentNotice{
		Provider:      models.ProviderEquity,
		Source:        models.SourceBankTransfer,
		TransactionID: body.TransactionReference,
		Amount:        amount,
		Reference:     cleanReference(body.AccountNumber),
		RoutingHint:   body.MerchantAccount,
		PaidBy:        body.SenderName,
		PhoneNumber:   normalizePhone(a.cfg, body.SenderMobile),
		OccurredAt:    parseTimeOrNow(time.RFC3339, body.Timestamp),
		RawPayload:    json.RawMessage(payload),
	}, nil
}

func (a *EquityAdapter) VerifySignature(payload []byte, signature, secret string) error {
	return verifyHMAC(payload, signature, secret, false)
}

// KCBAdapter handles KCB Buni credit notifications. Signature: HMAC-SHA256,
// base64-encoded.
type KCBAdapter struct {
	cfg *config.PipelineConfig
}

type kcbNotification struct {
	TransactionReference string `json:"transaction_reference"`
	TransactionAmount    any    `json:"transaction_amount"`
	OrganizationCode     string `json:"organization_code"`
	AccountReference     string `json:"account_reference"`
	SenderName           string `json:"sender_name"`
	SenderPhone          string `json:"sender_phone"`
	TransactionDate      string `json:"transaction_date"`
}

func NewKCBAdapter(cfg *config.PipelineConfig) *KCBAdapter {
	return &KCBAdapter{cfg: cfg}
}

func (a *KCBAdapter) Name() string   { return models.ProviderKCB }
func (a *KCBAdapter) Source() string { return models.SourceBankTransfer }

func (a *KCBAdapter) Normalize(payload []byte) (*models.PaymentNotice, error) {
	var body kcbNotification
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.TransactionReference == "" || body.AccountReference == "" {
		return nil, fmt.Errorf("%w: missing transaction_reference or account_reference", ErrMalformedPayload)
	}
	amount, err := parseAmount(body.TransactionAmount)
	if err != nil {
		return nil, err
	}
	return &models.PaymentNotice{
		Provider:      models.ProviderKCB,
		Source:        models.SourceBankTransfer,
		TransactionID: body.TransactionReference,
		Amount:        amount,
		Reference:     cleanReference(body.AccountReference),
		RoutingHint:   body.OrganizationCode,
		PaidBy:        body.SenderName,
		PhoneNumber:   normalizePhone(a.cfg, body.SenderPhone),
		OccurredAt:    parseTimeOrNow("2006-01-02 15:04:05", body.TransactionDate),
		RawPayload:    json.RawMessage(payload),
	}, nil
}

func (a *KCBAdapter) VerifySignature(payload []byte, signature, secret string) error {
	return verifyHMAC(payload, signature, secret, true)
}

// CoopAdapter handles Co-operative Bank notifications, which reuse the
// Daraja field naming. Signature: HMAC-SHA256, hex-encoded.
type CoopAdapter struct {
	cfg *config.PipelineConfig
}

type coopNotification struct {
	TransactionID string `json:"TransactionID"`
	TransAmount   any    `json:"TransAmount"`
	AccountNumber string `json:"AccountNumber"`
	BillRefNumber string `json:"BillRefNumber"`
	SenderName    string `json:"SenderName"`
	MSISDN        string `json:"MSISDN"`
	TransTime     string `json:"TransTime"`
}

func NewCoopAdapter(cfg *config.PipelineConfig) *CoopAdapter {
	return &CoopAdapter{cfg: cfg}
}

func (a *CoopAdapter) Name() string   { return models.ProviderCoop }
func (a *CoopAdapter) Source() string { return models.SourceBankTransfer }

func (a *CoopAdapter) Normalize(payload []byte) (*models.PaymentNotice, error) {
	var body coopNotification
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.TransactionID == "" || body.BillRefNumber == "" {
		return nil, fmt.Errorf("%w: missing TransactionID or BillRefNumber", ErrMalformedPayload)
	}
	amount, err := parseAmount(body.TransAmount)
	if err != nil {
		return nil, err
	}
	return &models.PaymentNotice{
		Provider:      models.ProviderCoop,
		Source:        models.SourceBankTransfer,
		TransactionID: body.TransactionID,
		Amount:        amount,
		Reference:     cleanReference(body.BillRefNumber),
		RoutingHint:   body.AccountNumber,
		PaidBy:        body.SenderName,
		PhoneNumber:   normalizePhone(a.cfg, body.MSISDN),
		OccurredAt:    parseTimeOrNow("20060102150405", body.TransTime),
		RawPayload:    json.RawMessage(payload),
	}, nil
}

func (a *CoopAdapter) VerifySignature(payload []byte, signature, secret string) error {
	return verifyHMAC(payload, signature, secret, false)
}

func parseTimeOrNow(layout, s string) time.Time {
	if t, err := time.Parse(layout, s); err == nil {
		return t
	}
	return time.Now()
}
