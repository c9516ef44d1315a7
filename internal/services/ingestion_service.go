package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
)

// IngestionService runs the reconciliation pipeline for every inbound
// payment channel: adapter, tenant resolver, idempotency guard, account
// matcher, ledger writer, notifier. Each HTTP delivery is one independent
// request-scoped run.
type IngestionService struct {
	mpesa     *MpesaAdapter
	banks     *AdapterRegistry
	tenants   *TenantService
	accounts  *AccountService
	ledger    *LedgerService
	notifier  *NotifierService
	validator *ValidationHelper
	cfg       *config.PipelineConfig
}

func NewIngestionService(
	tenants *TenantService,
	accounts *AccountService,
	ledger *LedgerService,
	notifier *NotifierService,
	cfg *config.PipelineConfig,
) *IngestionService {
	return &IngestionService{
		mpesa:     NewMpesaAdapter(cfg),
		banks:     NewAdapterRegistry(cfg),
		tenants:   tenants,
		accounts:  accounts,
		ledger:    ledger,
		notifier:  notifier,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// IngestOutcome reports what one pipeline run did.
type IngestOutcome struct {
	Entry     *models.LedgerEntry
	Student   *models.Student
	Duplicate bool
}

// ingest runs guard, matcher, ledger and notifier for a normalized notice.
// scope is the resolver's verdict; deferred channels pass UnresolvedTenant
// and derive the tenant from whichever student matches.
func (s *IngestionService) ingest(ctx context.Context, notice *models.PaymentNotice, scope TenantScope) (*IngestOutcome, error) {
	duplicate, err := s.ledger.CheckDuplicate(ctx, scope, notice.TransactionID)
	if err != nil {
		return nil, err
	}
	if duplicate {
		log.Printf("[INGEST] Duplicate delivery ignored: %s", notice.TransactionID)
		return &IngestOutcome{Duplicate: true}, nil
	}

	student, err := s.accounts.Match(ctx, scope, notice.Reference)
	if err != nil {
		return nil, err
	}
	if _, resolved := scope.Tenant(); !resolved && student != nil {
		scope = ResolvedTenantID(student.TenantID)
	}

	entry, err := s.ledger.Commit(ctx, notice, scope, student, models.TypeCredit)
	if errors.Is(err, ErrDuplicateTransaction) {
		// Lost the insert race against a concurrent retry; same outcome as
		// the fast-path duplicate.
		return &IngestOutcome{Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if student != nil {
		s.notifier.PublishMatched(entry, student)
		s.notifier.QueueReceipt(entry, student, s.cfg.Currency)
	} else {
		log.Printf("[INGEST] No account for reference %s, transaction %s held in suspense",
			notice.Reference, notice.TransactionID)
		s.notifier.PublishSuspense(entry)
	}

	return &IngestOutcome{Entry: entry, Student: student}, nil
}

type mpesaResult struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func writeMpesaResult(w http.ResponseWriter, code int, desc string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mpesaResult{ResultCode: code, ResultDesc: desc})
}

// MpesaValidation answers the Daraja pre-check
// @Summary M-Pesa C2B validation callback
// @Description Always affirms: money is never rejected at the gate, checks happen at confirmation
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} mpesaResult
// @Router /payments/mpesa/validation [post]
func (s *IngestionService) MpesaValidation(w http.ResponseWriter, r *http.Request) {
	log.Printf("[MPESA] Validation callback from %s, accepting", r.RemoteAddr)
	writeMpesaResult(w, 0, "Accepted")
}

// MpesaConfirmation ingests the Daraja C2B confirmation
// @Summary M-Pesa C2B confirmation callback
// @Description Processes one payment notification; always acknowledges to stop provider retries
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} mpesaResult
// @Router /payments/mpesa/confirmation [post]
func (s *IngestionService) MpesaConfirmation(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookBytes))
	if err != nil {
		writeMpesaResult(w, 1, "Unreadable body")
		return
	}

	notice, err := s.mpesa.Normalize(payload)
	if err != nil {
		log.Printf("[MPESA] Malformed confirmation rejected: %v", err)
		writeMpesaResult(w, 1, "Missing required fields")
		return
	}

	outcome, err := s.ingest(r.Context(), notice, UnresolvedTenant())
	if err != nil {
		// Neutral acknowledgment even on internal failure: anything other
		// than an affirmative response triggers an unbounded retry storm.
		log.Printf("[MPESA] Internal error processing %s: %v", notice.TransactionID, err)
		writeMpesaResult(w, 0, "Error but received")
		return
	}
	if outcome.Duplicate {
		writeMpesaResult(w, 0, "Duplicate")
		return
	}

	writeMpesaResult(w, 0, "Processed")
}

// BankWebhook ingests one bank provider's credit notification
// @Summary Bank credit notification webhook
// @Description Validates the tenant-scoped HMAC signature, then runs the ingestion pipeline
// @Tags payments
// @Accept json
// @Produce json
// @Param provider path string true "Bank provider" Enums(EQUITY, KCB, COOP)
// @Success 200 {object} map[string]string
// @Failure 401 {object} ErrorResponse
// @Router /payments/webhooks/{provider} [post]
func (s *IngestionService) BankWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	adapter, err := s.banks.Get(provider)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookBytes))
	if err != nil {
		SendErrorResponse(w, "Unreadable body", http.StatusBadRequest, nil)
		return
	}

	notice, err := adapter.Normalize(payload)
	if err != nil {
		log.Printf("[WEBHOOK] Malformed %s payload rejected: %v", adapter.Name(), err)
		SendErrorResponse(w, "Malformed payload", http.StatusBadRequest, nil)
		return
	}

	tenant, err := s.tenants.ResolveByRoutingHint(r.Context(), adapter.Name(), notice.RoutingHint)
	if errors.Is(err, ErrTenantNotConfigured) {
		// Without a tenant there is no secret to verify against, so the
		// notice fails the authentication boundary outright.
		log.Printf("[WEBHOOK] %s notice for unknown merchant account %s rejected",
			adapter.Name(), notice.RoutingHint)
		SendErrorResponse(w, "Unknown merchant account", http.StatusUnauthorized, nil)
		return
	}
	if err != nil {
		s.ackBankError(w, adapter.Name(), notice.TransactionID, err)
		return
	}

	if err := adapter.VerifySignature(payload, r.Header.Get("X-Signature"), tenant.Bank.APISecret); err != nil {
		log.Printf("[WEBHOOK] %s signature rejected for transaction %s", adapter.Name(), notice.TransactionID)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	outcome, err := s.ingest(r.Context(), notice, ResolvedTenant(tenant))
	if err != nil {
		s.ackBankError(w, adapter.Name(), notice.TransactionID, err)
		return
	}

	status := "processed"
	if outcome.Duplicate {
		status = "duplicate"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":        status,
		"transactionId": notice.TransactionID,
	})
}

// ackBankError acknowledges receipt despite an application-level failure.
// Banks retry on error responses; the failure is logged for the operator.
func (s *IngestionService) ackBankError(w http.ResponseWriter, provider, transactionID string, err error) {
	log.Printf("[WEBHOOK] Internal error processing %s transaction %s: %v", provider, transactionID, err)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":        "received",
		"transactionId": transactionID,
	})
}

// ManualPaymentRequest is an operator-entered bank or cash payment.
type ManualPaymentRequest struct {
	TransactionID string  `json:"transactionId" validate:"omitempty,max=64"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	Reference     string  `json:"reference" validate:"required,max=32"`
	Source        string  `json:"source" validate:"omitempty,oneof=BANK_TRANSFER BANK_AGENT CASH CHEQUE"`
	PaidBy        string  `json:"paidBy" validate:"omitempty,max=120"`
	ReceiptNumber string  `json:"receiptNumber" validate:"omitempty,max=64"`
}

// RecordBankPayment records an operator-entered bank transfer
// @Summary Record bank payment
// @Description Records a manually entered bank payment; the admission number must match an existing student
// @Tags payments
// @Accept json
// @Produce json
// @Param request body ManualPaymentRequest true "Payment details"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments/bank [post]
func (s *IngestionService) RecordBankPayment(w http.ResponseWriter, r *http.Request) {
	s.recordManual(w, r, models.SourceBankTransfer, true)
}

// RecordCashPayment records an operator-entered cash payment
// @Summary Record cash payment
// @Description Records a cash payment against a student; generates a receipt id when none is supplied
// @Tags payments
// @Accept json
// @Produce json
// @Param request body ManualPaymentRequest true "Payment details"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments/cash [post]
func (s *IngestionService) RecordCashPayment(w http.ResponseWriter, r *http.Request) {
	s.recordManual(w, r, models.SourceCash, false)
}

// recordManual is the operator-facing path: unlike automated channels it has
// no suspense fallback, so an unmatched reference is a hard input error and
// failures propagate normally.
func (s *IngestionService) recordManual(w http.ResponseWriter, r *http.Request, defaultSource string, requireTxID bool) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookBytes))
	dec.DisallowUnknownFields()

	var req ManualPaymentRequest
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
	if requireTxID && req.TransactionID == "" {
		SendErrorResponse(w, "transactionId is required", http.StatusBadRequest, nil)
		return
	}

	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = req.ReceiptNumber
	}
	if transactionID == "" {
		transactionID = "CASH-" + uuid.NewString()
	}

	scope := ResolvedTenant(tenant)
	duplicate, err := s.ledger.CheckDuplicate(r.Context(), scope, transactionID)
	if err != nil {
		SendErrorResponse(w, "Failed to check transaction", http.StatusInternalServerError, nil)
		return
	}
	if duplicate {
		SendErrorResponse(w, "Transaction already recorded", http.StatusBadRequest, nil)
		return
	}

	student, err := s.accounts.Match(r.Context(), scope, req.Reference)
	if err != nil {
		SendErrorResponse(w, "Failed to look up student", http.StatusInternalServerError, nil)
		return
	}
	if student == nil {
		SendErrorResponse(w, "Student not found with this admission number", http.StatusNotFound, nil)
		return
	}

	source := req.Source
	if source == "" {
		source = defaultSource
	}
	paidBy := req.PaidBy
	if paidBy == "" {
		paidBy = student.Name
	}

	metadata, _ := json.Marshal(map[string]any{
		"recordedBy": userIDFromContext(r.Context()),
		"recordedAt": time.Now().Format(time.RFC3339),
		"request":    req,
	})

	notice := &models.PaymentNotice{
		Source:        source,
		TransactionID: transactionID,
		Amount:        req.Amount,
		Reference:     cleanReference(req.Reference),
		PaidBy:        paidBy,
		OccurredAt:    time.Now(),
		RawPayload:    metadata,
	}

	entry, err := s.ledger.Commit(r.Context(), notice, scope, student, models.TypeCredit)
	if errors.Is(err, ErrDuplicateTransaction) {
		SendErrorResponse(w, "Transaction already recorded", http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		log.Printf("[MANUAL] Failed to record payment for %s: %v", req.Reference, err)
		SendErrorResponse(w, "Failed to record payment", http.StatusInternalServerError, nil)
		return
	}

	s.notifier.PublishMatched(entry, student)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    entry,
	})
}

// SourceStats is one payment source's aggregate for the stats endpoint.
type SourceStats struct {
	Source string  `json:"source"`
	Total  float64 `json:"total"`
	Count  int     `json:"count"`
}

// GetPaymentStats aggregates collected payments per source
// @Summary Payment statistics
// @Description Per-source totals and counts of completed credit payments, optionally date-filtered
// @Tags payments
// @Produce json
// @Param fromDate query string false "Start date (YYYY-MM-DD)"
// @Param toDate query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} object{stats=[]SourceStats,totalAmount=float64,totalCount=int}
// @Failure 500 {object} ErrorResponse
// @Router /payments/stats [get]
func (s *IngestionService) GetPaymentStats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	filters := struct {
		FromDate string `validate:"omitempty,datetime=2006-01-02"`
		ToDate   string `validate:"omitempty,datetime=2006-01-02"`
	}{
		FromDate: r.URL.Query().Get("fromDate"),
		ToDate:   r.URL.Query().Get("toDate"),
	}
	if err := s.validator.ValidateStruct(&filters); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	stats, err := s.ledger.SourceTotals(r.Context(), tenant.ID, filters.FromDate, filters.ToDate)
	if err != nil {
		log.Printf("[STATS] Failed to aggregate payments for tenant %d: %v", tenant.ID, err)
		SendErrorResponse(w, "Failed to fetch payment stats", http.StatusInternalServerError, nil)
		return
	}

	var totalAmount float64
	var totalCount int
	for _, s := range stats {
		totalAmount += s.Total
		totalCount += s.Count
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"stats":       stats,
		"totalAmount": totalAmount,
		"totalCount":  totalCount,
	})
}

func userIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value("userID").(string); ok {
		return userID
	}
	return ""
}
