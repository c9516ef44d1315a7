package models

import (
	"time"
)

// Student statuses
const (
	StudentActive      = "ACTIVE"
	StudentSuspended   = "SUSPENDED"
	StudentAlumni      = "ALUMNI"
	StudentTransferred = "TRANSFERRED"
)

// Student holds one fee ledger subject. CurrentBalance is a running total
// (positive = amount owed) maintained by the ledger service, never recomputed
// from transaction history.
type Student struct {
	ID              int       `json:"id" db:"id"`
	TenantID        int       `json:"tenantId" db:"tenant_id"`
	AdmissionNumber string    `json:"admissionNumber" db:"admission_number"`
	Name            string    `json:"name" db:"name"`
	ClassLevel      string    `json:"classLevel" db:"class_level"`
	Stream          string    `json:"stream" db:"stream"`
	GuardianName    string    `json:"guardianName" db:"guardian_name"`
	GuardianPhone   string    `json:"guardianPhone" db:"guardian_phone"`
	CurrentBalance  float64   `json:"currentBalance" db:"current_balance"`
	Status          string    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}
