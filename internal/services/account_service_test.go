package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/schoolpay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func studentRows(id, tenantID int, admission string, balance float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "admission_number", "name",
		"class_level", "current_balance", "status"}).
		AddRow(id, tenantID, admission, "Brian Kiprotich", "Form 2", balance, models.StudentActive)
}

func TestAccountService_Match(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("tenant scoped match", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM students").
			WithArgs(7, "ADM001").
			WillReturnRows(studentRows(42, 7, "ADM001", 12000))

		student, err := service.Match(context.Background(), ResolvedTenant(&models.Tenant{ID: 7}), " adm001 ")
		assert.NoError(t, err)
		assert.Equal(t, 42, student.ID)
		assert.Equal(t, 7, student.TenantID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("global match for deferred channels", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM students").
			WithArgs("ADM001").
			WillReturnRows(studentRows(42, 7, "ADM001", 12000))

		student, err := service.Match(context.Background(), UnresolvedTenant(), "adm001")
		assert.NoError(t, err)
		assert.Equal(t, 42, student.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no match is not an error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM students").
			WithArgs("GHOST").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		student, err := service.Match(context.Background(), UnresolvedTenant(), "GHOST")
		assert.NoError(t, err)
		assert.Nil(t, student)
	})

	t.Run("blank reference skips the query", func(t *testing.T) {
		student, err := service.Match(context.Background(), UnresolvedTenant(), "   ")
		assert.NoError(t, err)
		assert.Nil(t, student)
	})
}
