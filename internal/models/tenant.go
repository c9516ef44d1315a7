package models

import (
	"time"
)

// Subscription statuses
const (
	SubscriptionTrial     = "TRIAL"
	SubscriptionActive    = "ACTIVE"
	SubscriptionSuspended = "SUSPENDED"
	SubscriptionExpired   = "EXPIRED"
)

// Bank providers
const (
	ProviderEquity = "EQUITY"
	ProviderKCB    = "KCB"
	ProviderCoop   = "COOP"
	ProviderNone   = "NONE"
)

// BankIntegration holds a tenant's bank API configuration. Credentials are
// stored per tenant; cached bearer tokens live in the token store, not here.
type BankIntegration struct {
	Enabled        bool   `json:"enabled" db:"bank_enabled"`
	Provider       string `json:"provider" db:"bank_provider"`
	IsActive       bool   `json:"isActive" db:"bank_is_active"`
	APIKey         string `json:"-" db:"bank_api_key"`
	APISecret      string `json:"-" db:"bank_api_secret"`
	ConsumerKey    string `json:"-" db:"bank_consumer_key"`
	ConsumerSecret string `json:"-" db:"bank_consumer_secret"`
	AccountNumber  string `json:"accountNumber" db:"bank_account_number"`
	MerchantID     string `json:"merchantId" db:"bank_merchant_id"`
}

// Tenant is an onboarded school, the unit of data isolation.
type Tenant struct {
	ID                 int             `json:"id" db:"id"`
	Name               string          `json:"name" db:"name"`
	Code               string          `json:"code" db:"code"`
	PaybillNumber      string          `json:"paybillNumber" db:"paybill_number"`
	ContactEmail       string          `json:"contactEmail" db:"contact_email"`
	ContactPhone       string          `json:"contactPhone" db:"contact_phone"`
	Bank               BankIntegration `json:"bankIntegration"`
	Currency           string          `json:"currency" db:"currency"`
	IsActive           bool            `json:"isActive" db:"is_active"`
	SubscriptionStatus string          `json:"subscriptionStatus" db:"subscription_status"`
	SubscriptionExpiry *time.Time      `json:"subscriptionExpiry" db:"subscription_expiry"`
	MaxStudents        int             `json:"maxStudents" db:"max_students"`
	CreatedAt          time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time       `json:"updatedAt" db:"updated_at"`
}

// SubscriptionValid reports whether the tenant may process operator actions.
func (t *Tenant) SubscriptionValid() bool {
	if t.SubscriptionStatus == SubscriptionSuspended || t.SubscriptionStatus == SubscriptionExpired {
		return false
	}
	if t.SubscriptionExpiry != nil && t.SubscriptionExpiry.Before(time.Now()) {
		return false
	}
	return true
}
