package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
)

// ReconciliationService diffs a bank's authoritative transaction list against
// the ledger to surface notices that were never delivered or failed
// validation. Detection only: gaps are reported for replay, never auto-repaired.
type ReconciliationService struct {
	db        *sql.DB
	banks     *BankClientRegistry
	cfg       *config.PipelineConfig
	validator *ValidationHelper
}

// ReconciliationReport summarizes one sweep over a tenant/provider/window.
type ReconciliationReport struct {
	Tenant            string                  `json:"tenant"`
	Provider          string                  `json:"provider"`
	From              string                  `json:"from"`
	To                string                  `json:"to"`
	BankSideCount     int                     `json:"bankSideCount"`
	LedgerSideCount   int                     `json:"ledgerSideCount"`
	MissingFromLedger []BankTransactionRecord `json:"missingFromLedger"`
}

func NewReconciliationService(db *sql.DB, banks *BankClientRegistry, cfg *config.PipelineConfig) *ReconciliationService {
	return &ReconciliationService{
		db:        db,
		banks:     banks,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// Reconcile fetches the provider's statement for the window and reports
// transactions present on the bank side but absent from the ledger. The fetch
// honors ctx cancellation mid-flight.
func (s *ReconciliationService) Reconcile(ctx context.Context, tenant *models.Tenant, provider string, from, to time.Time) (*ReconciliationReport, error) {
	client, err := s.banks.Get(provider)
	if err != nil {
		return nil, err
	}

	bankSide, err := client.FetchTransactions(ctx, tenant, from, to)
	if err != nil {
		return nil, err
	}

	ledgerIDs, err := s.ledgerTransactionIDs(ctx, tenant.ID, provider, from, to)
	if err != nil {
		return nil, err
	}

	missing := []BankTransactionRecord{}
	for _, record := range bankSide {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := ledgerIDs[record.TransactionID]; !ok {
			missing = append(missing, record)
		}
	}

	log.Printf("[RECONCILE] Tenant %s provider %s window %s..%s: bank=%d ledger=%d missing=%d",
		tenant.Code, provider, from.Format("2006-01-02"), to.Format("2006-01-02"),
		len(bankSide), len(ledgerIDs), len(missing))

	return &ReconciliationReport{
		Tenant:            tenant.Code,
		Provider:          provider,
		From:              from.Format("2006-01-02"),
		To:                to.Format("2006-01-02"),
		BankSideCount:     len(bankSide),
		LedgerSideCount:   len(ledgerIDs),
		MissingFromLedger: missing,
	}, nil
}

func (s *ReconciliationService) ledgerTransactionIDs(ctx context.Context, tenantID int, provider string, from, to time.Time) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id
		FROM transactions
		WHERE tenant_id = $1 AND provider = $2 AND created_at >= $3 AND created_at < $4`,
		tenantID, provider, from, to.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ReconcileRequest is the operator request for a sweep.
type ReconcileRequest struct {
	Provider string `json:"provider" validate:"required,oneof=EQUITY KCB COOP"`
	FromDate string `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate   string `json:"toDate" validate:"required,datetime=2006-01-02"`
}

// RunReconciliation triggers a sweep for the operator's tenant
// @Summary Run bank reconciliation
// @Description Diff a bank provider's transaction list against the ledger for a date window
// @Tags reconciliation
// @Accept json
// @Produce json
// @Param request body ReconcileRequest true "Reconciliation window"
// @Success 200 {object} ReconciliationReport
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /reconciliation/run [post]
func (s *ReconciliationService) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookBytes))
	dec.DisallowUnknownFields()

	var req ReconcileRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	from, _ := time.Parse("2006-01-02", req.FromDate)
	to, _ := time.Parse("2006-01-02", req.ToDate)
	if to.Before(from) {
		SendErrorResponse(w, "toDate must not precede fromDate", http.StatusBadRequest, nil)
		return
	}
	if to.Sub(from) > s.cfg.MaxReconcileWindow {
		SendErrorResponse(w, "Reconciliation window too large", http.StatusBadRequest, nil)
		return
	}

	report, err := s.Reconcile(r.Context(), tenant, req.Provider, from, to)
	if err != nil {
		log.Printf("[RECONCILE] Sweep failed for tenant %s: %v", tenant.Code, err)
		SendErrorResponse(w, "Reconciliation failed: "+err.Error(), http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
