package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/schoolpay/backend/internal/models"
)

// TransactionService serves the operator-facing transaction views and the
// reversal action. All queries are scoped to the authenticated tenant.
type TransactionService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB, ledger *LedgerService) *TransactionService {
	return &TransactionService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

const entryColumns = `id, tenant_id, transaction_id, student_id, amount, source, provider,
	type, status, reference, paid_by, phone_number, metadata, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var metadata []byte
	err := row.Scan(
		&entry.ID, &entry.TenantID, &entry.TransactionID, &entry.StudentID, &entry.Amount,
		&entry.Source, &entry.Provider, &entry.Type, &entry.Status, &entry.Reference,
		&entry.PaidBy, &entry.PhoneNumber, &metadata, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Metadata = json.RawMessage(metadata)
	return &entry, nil
}

type listFilters struct {
	Status   string `validate:"omitempty,oneof=COMPLETED PENDING FAILED REVERSED"`
	Source   string `validate:"omitempty,oneof=MPESA BANK_TRANSFER BANK_AGENT CASH CHEQUE"`
	Type     string `validate:"omitempty,oneof=CREDIT DEBIT"`
	FromDate string `validate:"omitempty,datetime=2006-01-02"`
	ToDate   string `validate:"omitempty,datetime=2006-01-02"`
	Limit    int    `validate:"omitempty,min=1,max=200"`
}

// ListTransactions retrieves the tenant's transactions with optional filters
// @Summary List transactions
// @Description Get the authenticated school's transactions with optional filtering
// @Tags transactions
// @Produce json
// @Param status query string false "Filter by status" Enums(COMPLETED, PENDING, FAILED, REVERSED)
// @Param source query string false "Filter by source" Enums(MPESA, BANK_TRANSFER, BANK_AGENT, CASH, CHEQUE)
// @Param type query string false "Filter by entry type" Enums(CREDIT, DEBIT)
// @Param fromDate query string false "Start date (YYYY-MM-DD)"
// @Param toDate query string false "End date (YYYY-MM-DD)"
// @Param limit query int false "Number of rows to return (default: 50, max: 200)"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	filters := listFilters{
		Status:   r.URL.Query().Get("status"),
		Source:   r.URL.Query().Get("source"),
		Type:     r.URL.Query().Get("type"),
		FromDate: r.URL.Query().Get("fromDate"),
		ToDate:   r.URL.Query().Get("toDate"),
		Limit:    50,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filters.Limit = l
		}
	}
	if err := ts.validator.ValidateStruct(&filters); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	conditions := []string{"tenant_id = $1"}
	args := []any{tenant.ID}
	argIndex := 2

	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, filters.Status)
		argIndex++
	}
	if filters.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argIndex))
		args = append(args, filters.Source)
		argIndex++
	}
	if filters.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, filters.Type)
		argIndex++
	}
	if filters.FromDate != "" {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d::date", argIndex))
		args = append(args, filters.FromDate)
		argIndex++
	}
	if filters.ToDate != "" {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d::date + INTERVAL '1 day'", argIndex))
		args = append(args, filters.ToDate)
		argIndex++
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		entryColumns, strings.Join(conditions, " AND "), argIndex)
	args = append(args, filters.Limit)

	rows, err := ts.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list transactions for tenant %d: %v", tenant.ID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// GetTransaction retrieves one transaction by ledger id
// @Summary Get transaction by ID
// @Description Retrieve one of the authenticated school's transactions
// @Tags transactions
// @Produce json
// @Param id path int true "Ledger entry ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{id} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	entryID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	entry, err := scanEntry(ts.db.QueryRowContext(r.Context(),
		fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1 AND tenant_id = $2`, entryColumns),
		entryID, tenant.ID))
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[TRANSACTION] Failed to fetch transaction %d: %v", entryID, err)
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// ListStudentTransactions retrieves a student's payment history
// @Summary List transactions by student
// @Description Get all transactions recorded against one student
// @Tags transactions
// @Produce json
// @Param studentId path int true "Student ID"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Failure 404 {object} ErrorResponse
// @Router /students/{studentId}/transactions [get]
func (ts *TransactionService) ListStudentTransactions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	studentID, err := strconv.Atoi(chi.URLParam(r, "studentId"))
	if err != nil {
		SendErrorResponse(w, "Invalid student id", http.StatusBadRequest, nil)
		return
	}

	var exists bool
	err = ts.db.QueryRowContext(r.Context(), `
		SELECT EXISTS(SELECT 1 FROM students WHERE id = $1 AND tenant_id = $2)`,
		studentID, tenant.ID).Scan(&exists)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	if !exists {
		SendErrorResponse(w, "Student not found", http.StatusNotFound, nil)
		return
	}

	rows, err := ts.db.QueryContext(r.Context(),
		fmt.Sprintf(`SELECT %s FROM transactions WHERE student_id = $1 AND tenant_id = $2 ORDER BY created_at DESC`, entryColumns),
		studentID, tenant.ID)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list transactions for student %d: %v", studentID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// ReverseTransaction reverses one transaction exactly once
// @Summary Reverse a transaction
// @Description Marks the transaction REVERSED and inverts its balance effect on the linked student
// @Tags transactions
// @Produce json
// @Param id path int true "Ledger entry ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{id}/reverse [put]
func (ts *TransactionService) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	entryID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	// Ownership check before touching the ledger. Suspense entries carry a
	// null tenant and stay out of reach of any school operator.
	var owned bool
	err = ts.db.QueryRowContext(r.Context(), `
		SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1 AND tenant_id = $2)`,
		entryID, tenant.ID).Scan(&owned)
	if err != nil {
		SendErrorResponse(w, "Failed to reverse transaction", http.StatusInternalServerError, nil)
		return
	}
	if !owned {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	entry, err := ts.ledger.Reverse(r.Context(), entryID)
	if err == ErrAlreadyReversed {
		SendErrorResponse(w, "Transaction already reversed", http.StatusBadRequest, nil)
		return
	}
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[TRANSACTION] Failed to reverse transaction %d: %v", entryID, err)
		SendErrorResponse(w, "Failed to reverse transaction", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSACTION] Transaction %s reversed by operator %s", entry.TransactionID, userIDFromContext(r.Context()))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    entry,
	})
}
