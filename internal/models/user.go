package models

import "time"

// User roles
const (
	RoleOperator   = "operator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// User is an operator account, tied to exactly one tenant except for
// super admins, which carry no tenant association.
type User struct {
	ID        int        `json:"id" db:"id"`
	Email     string     `json:"email" db:"email"`
	Name      string     `json:"name" db:"name"`
	Role      string     `json:"role" db:"role"`
	TenantID  *int       `json:"tenantId" db:"tenant_id"`
	LastLogin *time.Time `json:"lastLogin" db:"last_login"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}
