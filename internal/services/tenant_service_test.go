package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/schoolpay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func tenantRows(id int, provider string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "code", "paybill_number", "contact_email",
		"contact_phone", "bank_enabled", "bank_provider", "bank_is_active", "bank_api_key",
		"bank_api_secret", "bank_consumer_key", "bank_consumer_secret", "bank_account_number",
		"bank_merchant_id", "currency", "is_active", "subscription_status", "subscription_expiry",
		"max_students"}).
		AddRow(id, "Hillview Academy", "HVA", "123456", "bursar@hillview.ac.ke",
			"254700111222", true, provider, true, "key", "secret", "ck", "cs", "0170199988776",
			"SCH0042", "KES", true, models.SubscriptionActive, time.Now().Add(30*24*time.Hour), 500)
}

func TestTenantService_ResolveByRoutingHint(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTenantService(db)

	t.Run("matches account number", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM tenants").
			WithArgs(models.ProviderEquity, "0170199988776").
			WillReturnRows(tenantRows(7, models.ProviderEquity))

		tenant, err := service.ResolveByRoutingHint(context.Background(), models.ProviderEquity, "0170199988776")
		assert.NoError(t, err)
		assert.Equal(t, 7, tenant.ID)
		assert.Equal(t, "secret", tenant.Bank.APISecret)
	})

	t.Run("no integration configured", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM tenants").
			WithArgs(models.ProviderKCB, "UNKNOWN").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := service.ResolveByRoutingHint(context.Background(), models.ProviderKCB, "UNKNOWN")
		assert.ErrorIs(t, err, ErrTenantNotConfigured)
	})

	t.Run("empty hint short-circuits", func(t *testing.T) {
		_, err := service.ResolveByRoutingHint(context.Background(), models.ProviderEquity, "")
		assert.ErrorIs(t, err, ErrTenantNotConfigured)
	})
}

func TestTenantService_GetTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTenantService(db)

	mock.ExpectQuery("SELECT (.+) FROM tenants").
		WithArgs(7).
		WillReturnRows(tenantRows(7, models.ProviderEquity))

	tenant, err := service.GetTenant(context.Background(), 7)
	assert.NoError(t, err)
	assert.Equal(t, "Hillview Academy", tenant.Name)
	assert.True(t, tenant.SubscriptionValid())
}

func TestTenantScope(t *testing.T) {
	t.Run("unresolved has no id", func(t *testing.T) {
		scope := UnresolvedTenant()
		assert.Nil(t, scope.TenantID())
		_, ok := scope.Tenant()
		assert.False(t, ok)
	})

	t.Run("resolved by id", func(t *testing.T) {
		scope := ResolvedTenantID(7)
		assert.Equal(t, 7, *scope.TenantID())
	})

	t.Run("resolved by tenant", func(t *testing.T) {
		scope := ResolvedTenant(&models.Tenant{ID: 9})
		tenant, ok := scope.Tenant()
		assert.True(t, ok)
		assert.Equal(t, 9, tenant.ID)
	})
}

func TestTenant_SubscriptionValid(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		tenant models.Tenant
		want   bool
	}{
		{"active", models.Tenant{SubscriptionStatus: models.SubscriptionActive}, true},
		{"trial", models.Tenant{SubscriptionStatus: models.SubscriptionTrial, SubscriptionExpiry: &future}, true},
		{"suspended", models.Tenant{SubscriptionStatus: models.SubscriptionSuspended}, false},
		{"expired status", models.Tenant{SubscriptionStatus: models.SubscriptionExpired}, false},
		{"past expiry", models.Tenant{SubscriptionStatus: models.SubscriptionActive, SubscriptionExpiry: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tenant.SubscriptionValid())
		})
	}
}
