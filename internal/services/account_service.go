package services

import (
	"context"
	"database/sql"

	"github.com/schoolpay/backend/internal/models"
)

// AccountService matches payer-typed references to students. A miss is not an
// error: it signals suspense handling downstream.
type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

const studentColumns = `id, tenant_id, admission_number, name, class_level, current_balance, status`

func scanStudent(row *sql.Row) (*models.Student, error) {
	var st models.Student
	err := row.Scan(&st.ID, &st.TenantID, &st.AdmissionNumber, &st.Name,
		&st.ClassLevel, &st.CurrentBalance, &st.Status)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Match looks up the student for a raw reference. The lookup is scoped to the
// tenant when one is resolved; deferred channels search across all tenants,
// assuming admission numbers are unique in practice even though the schema
// only guarantees per-tenant uniqueness.
func (s *AccountService) Match(ctx context.Context, scope TenantScope, rawReference string) (*models.Student, error) {
	ref := cleanReference(rawReference)
	if ref == "" {
		return nil, nil
	}

	var row *sql.Row
	if tenant, ok := scope.Tenant(); ok {
		row = s.db.QueryRowContext(ctx, `
			SELECT `+studentColumns+`
			FROM students
			WHERE tenant_id = $1 AND admission_number = $2
			LIMIT 1`, tenant.ID, ref)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT `+studentColumns+`
			FROM students
			WHERE admission_number = $1
			LIMIT 1`, ref)
	}

	student, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return student, nil
}
