package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/schoolpay/backend/internal/models"
)

// LedgerService is the single writer of transaction records and student
// balances. An entry and its balance effect land in the same database
// transaction or not at all.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// CheckDuplicate is the fast-path idempotency probe. The authoritative
// guarantee is the uniqueness constraint on (tenant_id, transaction_id); this
// check only avoids matching work for the common retry case. The lookup is
// global when no tenant is resolved, matching the suspense namespace.
func (s *LedgerService) CheckDuplicate(ctx context.Context, scope TenantScope, externalID string) (bool, error) {
	var exists bool
	var err error
	if tenantID := scope.TenantID(); tenantID != nil {
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM transactions WHERE tenant_id = $1 AND transaction_id = $2)`,
			*tenantID, externalID).Scan(&exists)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM transactions WHERE transaction_id = $1)`,
			externalID).Scan(&exists)
	}
	return exists, err
}

// Commit atomically persists the ledger entry and, when a student was
// matched, applies the signed amount to the running balance. A concurrent
// duplicate delivery loses to the uniqueness constraint and resolves to
// ErrDuplicateTransaction, never a partial write.
func (s *LedgerService) Commit(ctx context.Context, notice *models.PaymentNotice, scope TenantScope, student *models.Student, entryType string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry := &models.LedgerEntry{
		TenantID:      scope.TenantID(),
		TransactionID: notice.TransactionID,
		Amount:        notice.Amount,
		Source:        notice.Source,
		Provider:      notice.Provider,
		Type:          entryType,
		Status:        models.StatusPending,
		Reference:     notice.Reference,
		PaidBy:        notice.PaidBy,
		PhoneNumber:   notice.PhoneNumber,
		Metadata:      notice.RawPayload,
	}
	if student != nil {
		entry.StudentID = &student.ID
		entry.Status = models.StatusCompleted
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions
		(tenant_id, transaction_id, student_id, amount, source, provider, type, status, reference, paid_by, phone_number, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id, created_at`,
		entry.TenantID, entry.TransactionID, entry.StudentID, entry.Amount, entry.Source,
		entry.Provider, entry.Type, entry.Status, entry.Reference, entry.PaidBy,
		entry.PhoneNumber, string(entry.Metadata)).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[LEDGER] Duplicate transaction lost insert race: %s", entry.TransactionID)
			return nil, ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if student != nil {
		if err := s.applyBalance(ctx, tx, student.ID, balanceDelta(entryType, notice.Amount)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return entry, nil
}

// Reverse transitions an entry to REVERSED exactly once and inverts its
// balance effect on the linked student, if any. A second reversal attempt is
// rejected, not repeated.
func (s *LedgerService) Reverse(ctx context.Context, entryID int) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var entry models.LedgerEntry
	err = tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, transaction_id, student_id, amount, source, provider, type, status, reference
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, entryID).Scan(
		&entry.ID, &entry.TenantID, &entry.TransactionID, &entry.StudentID, &entry.Amount,
		&entry.Source, &entry.Provider, &entry.Type, &entry.Status, &entry.Reference)
	if err != nil {
		return nil, err
	}

	if entry.Status == models.StatusReversed {
		return nil, ErrAlreadyReversed
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1 WHERE id = $2`,
		models.StatusReversed, entry.ID); err != nil {
		return nil, fmt.Errorf("reverse transaction: %w", err)
	}

	if entry.StudentID != nil {
		// Inverting a CREDIT puts the amount back on the balance.
		if err := s.applyBalance(ctx, tx, *entry.StudentID, -balanceDelta(entry.Type, entry.Amount)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	entry.Status = models.StatusReversed
	return &entry, nil
}

// SourceTotals aggregates completed credit payments per source for one
// tenant, optionally bounded by an inclusive date window.
func (s *LedgerService) SourceTotals(ctx context.Context, tenantID int, fromDate, toDate string) ([]SourceStats, error) {
	query := `
		SELECT source, COALESCE(SUM(amount), 0), COUNT(*)
		FROM transactions
		WHERE tenant_id = $1 AND type = $2 AND status = $3`
	args := []any{tenantID, models.TypeCredit, models.StatusCompleted}
	argIndex := 4

	if fromDate != "" {
		query += fmt.Sprintf(" AND created_at >= $%d::date", argIndex)
		args = append(args, fromDate)
		argIndex++
	}
	if toDate != "" {
		query += fmt.Sprintf(" AND created_at < $%d::date + INTERVAL '1 day'", argIndex)
		args = append(args, toDate)
	}
	query += " GROUP BY source ORDER BY source"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []SourceStats{}
	for rows.Next() {
		var stat SourceStats
		if err := rows.Scan(&stat.Source, &stat.Total, &stat.Count); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// applyBalance is a database-level atomic increment; the balance is never
// read, computed and written back at the application layer.
func (s *LedgerService) applyBalance(ctx context.Context, tx *sql.Tx, studentID int, delta float64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE students
		SET current_balance = current_balance + $1, updated_at = $2
		WHERE id = $3`, delta, time.Now(), studentID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("student %d not found for balance update", studentID)
	}
	return nil
}

// balanceDelta maps an entry to its signed balance effect. The balance is the
// amount owed, so a credit payment decreases it and a debit increases it.
func balanceDelta(entryType string, amount float64) float64 {
	if entryType == models.TypeDebit {
		return amount
	}
	return -amount
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
