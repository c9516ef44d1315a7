package middleware

import (
	"context"
	"log"
	"net/http"

	"github.com/schoolpay/backend/internal/services"
)

// TenantMiddleware loads the operator's school from the tenant_id claim and
// gates every downstream handler on it being active with a valid
// subscription. Must run after AuthMiddleware.
func TenantMiddleware(tenants *services.TenantService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := r.Context().Value("tenantID").(int)
			if !ok {
				http.Error(w, "No school associated with this account", http.StatusForbidden)
				return
			}

			tenant, err := tenants.GetTenant(r.Context(), tenantID)
			if err != nil {
				log.Printf("[TENANT] Failed to load tenant %d: %v", tenantID, err)
				http.Error(w, "School not found", http.StatusForbidden)
				return
			}

			if !tenant.IsActive {
				http.Error(w, "School account is deactivated", http.StatusForbidden)
				return
			}

			if !tenant.SubscriptionValid() {
				http.Error(w, "School subscription has expired", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), "tenant", tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
