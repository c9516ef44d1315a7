package models

import (
	"encoding/json"
	"time"
)

// Payment sources
const (
	SourceMpesa        = "MPESA"
	SourceBankTransfer = "BANK_TRANSFER"
	SourceBankAgent    = "BANK_AGENT"
	SourceCash         = "CASH"
	SourceCheque       = "CHEQUE"
)

// Entry types. Credit = payment in (reduces amount owed), Debit = reversal or
// manual charge (increases amount owed).
const (
	TypeCredit = "CREDIT"
	TypeDebit  = "DEBIT"
)

// Entry statuses
const (
	StatusCompleted = "COMPLETED"
	StatusPending   = "PENDING"
	StatusFailed    = "FAILED"
	StatusReversed  = "REVERSED"
)

// PaymentNotice is the normalized output of a provider adapter. It is a value
// consumed once by the ingestion pipeline and never persisted as-is.
type PaymentNotice struct {
	Provider      string // EQUITY, KCB, COOP, or empty for M-Pesa
	Source        string // MPESA, BANK_TRANSFER, ...
	TransactionID string // external id, unique within the provider's namespace
	Amount        float64
	Reference     string // payer-typed account reference, already trimmed+uppercased
	RoutingHint   string // merchant/account identifier embedded in bank payloads
	PaidBy        string
	PhoneNumber   *string // nil when masked or malformed
	OccurredAt    time.Time
	RawPayload    json.RawMessage // full payload kept for audit
}

// LedgerEntry is the immutable record of one financial event. The only
// permitted mutation after commit is the COMPLETED/PENDING -> REVERSED
// status transition.
type LedgerEntry struct {
	ID            int             `json:"id" db:"id"`
	TenantID      *int            `json:"tenantId" db:"tenant_id"`
	TransactionID string          `json:"transactionId" db:"transaction_id"`
	StudentID     *int            `json:"studentId" db:"student_id"`
	Amount        float64         `json:"amount" db:"amount"`
	Source        string          `json:"source" db:"source"`
	Provider      string          `json:"provider" db:"provider"`
	Type          string          `json:"type" db:"type"`
	Status        string          `json:"status" db:"status"`
	Reference     string          `json:"reference" db:"reference"`
	PaidBy        string          `json:"paidBy" db:"paid_by"`
	PhoneNumber   *string         `json:"phoneNumber" db:"phone_number"`
	Metadata      json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// PaymentEvent is the self-contained real-time message published after a
// successful commit. Kind is payment_matched or payment_suspense.
type PaymentEvent struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	TenantID        *int    `json:"tenantId,omitempty"`
	StudentName     string  `json:"studentName,omitempty"`
	AdmissionNumber string  `json:"admissionNumber,omitempty"`
	Reference       string  `json:"reference"`
	Amount          float64 `json:"amount"`
	Source          string  `json:"source"`
	Time            string  `json:"time"`
	Status          string  `json:"status"`
}

// Event kinds
const (
	EventPaymentMatched  = "payment_matched"
	EventPaymentSuspense = "payment_suspense"
)
