package services

import (
	"context"
	"database/sql"
	"log"

	"github.com/schoolpay/backend/internal/models"
)

// TenantScope distinguishes a resolved tenant from the cross-tenant suspense
// case. Consumers must unpack it instead of comparing a nullable pointer.
type TenantScope struct {
	tenant *models.Tenant
}

func ResolvedTenant(t *models.Tenant) TenantScope {
	return TenantScope{tenant: t}
}

func UnresolvedTenant() TenantScope {
	return TenantScope{}
}

// ResolvedTenantID scopes an entry to a tenant known only by id, as when the
// tenant is derived transitively from a matched student.
func ResolvedTenantID(id int) TenantScope {
	return TenantScope{tenant: &models.Tenant{ID: id}}
}

// TenantFromContext returns the tenant attached by the tenant middleware.
func TenantFromContext(ctx context.Context) (*models.Tenant, bool) {
	tenant, ok := ctx.Value("tenant").(*models.Tenant)
	return tenant, ok
}

// Tenant returns the resolved tenant, or false for the suspense case.
func (s TenantScope) Tenant() (*models.Tenant, bool) {
	return s.tenant, s.tenant != nil
}

// TenantID returns the tenant id as a nullable column value.
func (s TenantScope) TenantID() *int {
	if s.tenant == nil {
		return nil
	}
	return &s.tenant.ID
}

// TenantService resolves inbound notices to their owning tenant and loads
// tenants for the operator middleware.
type TenantService struct {
	db *sql.DB
}

func NewTenantService(db *sql.DB) *TenantService {
	return &TenantService{db: db}
}

const tenantColumns = `id, name, code, paybill_number, contact_email, contact_phone,
	       bank_enabled, bank_provider, bank_is_active, bank_api_key, bank_api_secret,
	       bank_consumer_key, bank_consumer_secret, bank_account_number, bank_merchant_id,
	       currency, is_active, subscription_status, subscription_expiry, max_students`

func scanTenant(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(
		&t.ID, &t.Name, &t.Code, &t.PaybillNumber, &t.ContactEmail, &t.ContactPhone,
		&t.Bank.Enabled, &t.Bank.Provider, &t.Bank.IsActive, &t.Bank.APIKey, &t.Bank.APISecret,
		&t.Bank.ConsumerKey, &t.Bank.ConsumerSecret, &t.Bank.AccountNumber, &t.Bank.MerchantID,
		&t.Currency, &t.IsActive, &t.SubscriptionStatus, &t.SubscriptionExpiry, &t.MaxStudents,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ResolveByRoutingHint locates the tenant whose bank integration matches the
// identifier embedded in a bank payload. The integration must be enabled and
// active; anything else is treated as not configured, because crediting an
// ambiguous tenant risks cross-tenant balance corruption.
func (s *TenantService) ResolveByRoutingHint(ctx context.Context, provider, hint string) (*models.Tenant, error) {
	if hint == "" {
		return nil, ErrTenantNotConfigured
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE bank_provider = $1
		  AND (bank_account_number = $2 OR bank_merchant_id = $2)
		  AND bank_enabled = TRUE
		  AND bank_is_active = TRUE
		  AND is_active = TRUE
		LIMIT 1`, provider, hint)

	tenant, err := scanTenant(row)
	if err == sql.ErrNoRows {
		log.Printf("[TENANT] No active %s integration for routing hint %s", provider, hint)
		return nil, ErrTenantNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetTenant loads one tenant by id.
func (s *TenantService) GetTenant(ctx context.Context, id int) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1`, id)
	return scanTenant(row)
}
