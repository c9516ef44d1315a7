package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/schoolpay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func fullEntryRows(id int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "transaction_id", "student_id", "amount",
		"source", "provider", "type", "status", "reference", "paid_by", "phone_number", "metadata", "created_at"}).
		AddRow(id, 7, "TX1001", 42, 1500.0, models.SourceMpesa, "", models.TypeCredit,
			models.StatusCompleted, "ADM001", "Jane Wanjiku", nil, "{}", time.Now())
}

// operatorRequest builds an authenticated request with the tenant bound and
// any chi URL params set.
func operatorRequest(method, target string, tenant *models.Tenant, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(req.Context(), "tenant", tenant)
	ctx = context.WithValue(ctx, "userID", "9")

	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func TestTransactionService_ListTransactions(t *testing.T) {
	tenant := &models.Tenant{ID: 7, Name: "Hillview Academy"}

	t.Run("default listing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewTransactionService(db, NewLedgerService(db))

		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE tenant_id = \\$1 ORDER BY created_at DESC").
			WithArgs(7, 50).
			WillReturnRows(fullEntryRows(1))

		rec := httptest.NewRecorder()
		service.ListTransactions(rec, operatorRequest("GET", "/transactions", tenant, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var response struct {
			Transactions []models.LedgerEntry `json:"transactions"`
			Count        int                  `json:"count"`
		}
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, 1, response.Count)
		assert.Equal(t, "TX1001", response.Transactions[0].TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filtered listing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewTransactionService(db, NewLedgerService(db))

		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE tenant_id = \\$1 AND status = \\$2 AND source = \\$3 AND created_at >= \\$4::date").
			WithArgs(7, models.StatusCompleted, models.SourceMpesa, "2026-01-01", 25).
			WillReturnRows(fullEntryRows(1))

		rec := httptest.NewRecorder()
		service.ListTransactions(rec, operatorRequest(
			"GET", "/transactions?status=COMPLETED&source=MPESA&fromDate=2026-01-01&limit=25", tenant, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid filter value", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewTransactionService(db, NewLedgerService(db))

		rec := httptest.NewRecorder()
		service.ListTransactions(rec, operatorRequest("GET", "/transactions?status=BOGUS", tenant, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no tenant in context", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewTransactionService(db, NewLedgerService(db))

		rec := httptest.NewRecorder()
		service.ListTransactions(rec, httptest.NewRequest("GET", "/transactions", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestTransactionService_GetTransaction(t *testing.T) {
	tenant := &models.Tenant{ID: 7, Name: "Hillview Academy"}

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, NewLedgerService(db))

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1 AND tenant_id = \\$2").
			WithArgs(1, 7).
			WillReturnRows(fullEntryRows(1))

		rec := httptest.NewRecorder()
		service.GetTransaction(rec, operatorRequest("GET", "/transactions/1", tenant, map[string]string{"id": "1"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		var entry models.LedgerEntry
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
		assert.Equal(t, "TX1001", entry.TransactionID)
	})

	t.Run("belongs to another school", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1 AND tenant_id = \\$2").
			WithArgs(99, 7).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		rec := httptest.NewRecorder()
		service.GetTransaction(rec, operatorRequest("GET", "/transactions/99", tenant, map[string]string{"id": "99"}))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-numeric id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		service.GetTransaction(rec, operatorRequest("GET", "/transactions/abc", tenant, map[string]string{"id": "abc"}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_ListStudentTransactions(t *testing.T) {
	tenant := &models.Tenant{ID: 7, Name: "Hillview Academy"}

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, NewLedgerService(db))

	t.Run("history for an owned student", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(42, 7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE student_id = \\$1 AND tenant_id = \\$2").
			WithArgs(42, 7).
			WillReturnRows(fullEntryRows(1))

		rec := httptest.NewRecorder()
		service.ListStudentTransactions(rec, operatorRequest(
			"GET", "/students/42/transactions", tenant, map[string]string{"studentId": "42"}))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("student of another school", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(500, 7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		rec := httptest.NewRecorder()
		service.ListStudentTransactions(rec, operatorRequest(
			"GET", "/students/500/transactions", tenant, map[string]string{"studentId": "500"}))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_ReverseTransaction(t *testing.T) {
	tenant := &models.Tenant{ID: 7, Name: "Hillview Academy"}

	reverseRows := func(status string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "tenant_id", "transaction_id", "student_id", "amount",
			"source", "provider", "type", "status", "reference"}).
			AddRow(1, 7, "TX1001", 42, 1500.0, models.SourceMpesa, "", models.TypeCredit, status, "ADM001")
	}

	t.Run("reverses and restores the balance", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewTransactionService(db, NewLedgerService(db))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(1, 7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(1).
			WillReturnRows(reverseRows(models.StatusCompleted))
		mock.ExpectExec("UPDATE transactions SET status").
			WithArgs(models.StatusReversed, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE students").
			WithArgs(1500.0, sqlmock.AnyArg(), 42).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec := httptest.NewRecorder()
		service.ReverseTransaction(rec, operatorRequest(
			"PUT", "/transactions/1/reverse", tenant, map[string]string{"id": "1"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		var response struct {
			Success bool               `json:"success"`
			Data    models.LedgerEntry `json:"data"`
		}
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.True(t, response.Success)
		assert.Equal(t, models.StatusReversed, response.Data.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second reversal is rejected", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewTransactionService(db, NewLedgerService(db))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(1, 7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WithArgs(1).
			WillReturnRows(reverseRows(models.StatusReversed))
		mock.ExpectRollback()

		rec := httptest.NewRecorder()
		service.ReverseTransaction(rec, operatorRequest(
			"PUT", "/transactions/1/reverse", tenant, map[string]string{"id": "1"}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("entry of another school", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewTransactionService(db, NewLedgerService(db))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(1, 7).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		rec := httptest.NewRecorder()
		service.ReverseTransaction(rec, operatorRequest(
			"PUT", "/transactions/1/reverse", tenant, map[string]string{"id": "1"}))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
