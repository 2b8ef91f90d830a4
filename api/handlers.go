/*
handlers.go - HTTP API handlers for the installment ledger

PURPOSE:
  Exposes the ledger and the reconciliation jobs via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Products:
    GET    /api/products                    List products (?low_stock=true)
    POST   /api/products                    Create product
    GET    /api/products/{id}               Get product
    PUT    /api/products/{id}               Replace product

  Contracts:
    GET    /api/contracts                   List (?customer_id, ?status, ?limit, ?offset)
    POST   /api/contracts                   Create contract (decrements stock)
    GET    /api/contracts/{id}              Contract with items and schedule
    GET    /api/contracts/{id}/installments Schedule only
    POST   /api/contracts/{id}/recalc       Re-derive statuses now
    PUT    /api/contracts/{id}/status       Administrative override

  Installments:
    GET    /api/installments/{id}           Installment with payments
    PATCH  /api/installments/{id}           Edit due date / amount / status
    POST   /api/installments/{id}/pay       Apply a payment
    GET    /api/installments/{id}/payments  Payments

  Payments:
    POST   /api/payments                    Apply a payment
    GET    /api/payments/{id}               Get payment
    DELETE /api/payments/{id}               Reverse payment

  Admin:
    GET    /api/admin/jobs                  Registered jobs
    POST   /api/admin/jobs/run              Run a job now
    GET    /api/admin/jobs/runs             Run history
    GET    /api/admin/reminders/preview     Reminder candidates, nothing sent
    POST   /api/admin/reminders/send        Run the reminder job now
    GET    /api/admin/notifications         Notification log

ERROR HANDLING:
  Ledger errors are mapped by writeLedgerError:
  - 400: invalid amount / contract / status / product
  - 404: unknown contract, installment or payment
  - 409: insufficient stock, lost race after retries, job already running
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - auth.go: Bearer token and grant checks
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/reconcile"
	"github.com/warp/installment-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Ledger     *ledger.Ledger
	Reconciler *reconcile.Reconciler
	Scheduler  *reconcile.Scheduler
	Log        *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. The scheduler must have the
// reconciliation jobs registered for the admin job endpoints to work.
func NewHandler(store *sqlite.Store, l *ledger.Ledger, rec *reconcile.Reconciler, sched *reconcile.Scheduler, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		Ledger:     l,
		Reconciler: rec,
		Scheduler:  sched,
		Log:        log,
		validate:   newValidator(),
	}
}

// =============================================================================
// STATUS
// =============================================================================

// Status reports whether the database answers.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   formatTimestamp(time.Now()),
	})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products, or only low-stock ones.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []ledger.Product
		err      error
	)
	if r.URL.Query().Get("low_stock") == "true" {
		products, err = h.Store.ListLowStockProducts(r.Context())
	} else {
		products, err = h.Store.ListProducts(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get product", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Product not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// CreateProduct creates a product. An id is generated when none is given.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, "", http.StatusCreated)
}

// UpdateProduct replaces the product in the URL.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get product", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Product not found", nil)
		return
	}
	h.saveProduct(w, r, id, http.StatusOK)
}

func (h *Handler) saveProduct(w http.ResponseWriter, r *http.Request, id string, status int) {
	var req SaveProductRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := AmountFields{AmountCents: req.PriceCents, Amount: req.Price}.cents()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	if price < 0 {
		writeError(w, http.StatusBadRequest, "Invalid price", errors.New("price must not be negative"))
		return
	}

	if id == "" {
		id = req.ID
	}
	if id == "" {
		id = uuid.NewString()
	}
	p := ledger.Product{
		ID:             id,
		Name:           req.Name,
		PriceCents:     price,
		Stock:          req.Stock,
		StockThreshold: req.StockThreshold,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}
	writeJSON(w, status, toProductDTO(p))
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns contracts, newest first.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.ContractFilter{
		CustomerID: q.Get("customer_id"),
		Status:     ledger.ContractStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	contracts, err := h.Store.ListContracts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contracts", err)
		return
	}
	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract sells the line items on credit and builds the schedule.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := parseTimestamp(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD or RFC 3339)", err)
		return
	}

	in := ledger.CreateContractInput{
		CustomerID: req.CustomerID,
		Months:     req.Months,
		StartDate:  start,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ledger.LineItem{ProductID: it.ProductID, Qty: it.Qty})
	}

	c, err := h.Ledger.CreateContract(r.Context(), in)
	if err != nil {
		writeLedgerError(w, "Failed to create contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(*c))
}

// GetContract returns a contract with its items and installments.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Ledger.Contract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// ListContractInstallments returns the schedule ordered by seq.
func (h *Handler) ListContractInstallments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}
	insts, err := h.Store.ListInstallments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}
	dtos := make([]InstallmentDTO, len(insts))
	for i, inst := range insts {
		dtos[i] = toInstallmentDTO(inst)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecalculateContract re-derives every status of the contract now.
func (h *Handler) RecalculateContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Ledger.RecalculateContract(r.Context(), id); err != nil {
		writeLedgerError(w, "Failed to recalculate contract", err)
		return
	}
	c, err := h.Ledger.Contract(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// SetContractStatus overrides the stored contract status.
func (h *Handler) SetContractStatus(w http.ResponseWriter, r *http.Request) {
	var req ContractStatusRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.Ledger.OverrideContractStatus(r.Context(), chi.URLParam(r, "id"), ledger.ContractStatus(req.Status))
	if err != nil {
		writeLedgerError(w, "Failed to update contract status", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// GetInstallment returns an installment with its payments.
func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	inst, payments, err := h.Ledger.Installment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to get installment", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"installment": toInstallmentDTO(*inst),
		"payments":    dtos,
	})
}

// UpdateInstallment applies an administrative edit.
func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	var req UpdateInstallmentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var patch ledger.InstallmentPatch
	if req.DueDate != nil {
		due, err := parseTimestamp(*req.DueDate)
		if err != nil || due.IsZero() {
			writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD or RFC 3339)", err)
			return
		}
		patch.DueDate = &due
	}
	if req.AmountCents != nil || req.Amount != nil {
		fields := AmountFields{AmountCents: req.AmountCents}
		if req.Amount != nil {
			fields.Amount = *req.Amount
		}
		amount, err := fields.cents()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		patch.AmountCents = &amount
	}
	if req.Status != nil {
		s := ledger.InstallmentStatus(*req.Status)
		patch.Status = &s
	}

	inst, err := h.Ledger.UpdateInstallment(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeLedgerError(w, "Failed to update installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(*inst))
}

// PayInstallment applies a payment to the installment in the URL.
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.applyPayment(w, r, chi.URLParam(r, "id"), req.AmountFields, req.PaidAt)
}

// ListInstallmentPayments returns the payments of one installment.
func (h *Handler) ListInstallmentPayments(w http.ResponseWriter, r *http.Request) {
	_, payments, err := h.Ledger.Installment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment applies a payment to the installment named in the body.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.applyPayment(w, r, req.InstallmentID, req.AmountFields, req.PaidAt)
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request, installmentID string, fields AmountFields, paidAtRaw string) {
	amount, err := fields.cents()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	paidAt, err := parseTimestamp(paidAtRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paid_at format (use YYYY-MM-DD or RFC 3339)", err)
		return
	}

	res, err := h.Ledger.ApplyPayment(r.Context(), installmentID, amount, paidAt)
	if err != nil {
		writeLedgerError(w, "Failed to apply payment", err)
		return
	}

	status := http.StatusCreated
	if res.AlreadySettled {
		status = http.StatusOK
	}
	writeJSON(w, status, toPaymentResultDTO(res))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// DeletePayment reverses a payment in full.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.ReversePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to reverse payment", err)
		return
	}
	writeJSON(w, http.StatusOK, ReversalDTO{
		PaymentID:         res.PaymentID,
		InstallmentID:     res.InstallmentID,
		ReversedCents:     int64(res.ReversedCents),
		PaidCents:         int64(res.PaidCents),
		InstallmentStatus: string(res.InstallmentStatus),
		ContractID:        res.ContractID,
		ContractStatus:    string(res.ContractStatus),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListJobs returns the registered jobs and their schedules.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.Scheduler.Jobs()})
}

// RunJob runs a reconciliation job now, through the scheduler so it never
// overlaps a scheduled run.
// POST /api/admin/jobs/run
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	var req RunJobRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.runJob(w, r, req.Job)
}

// SendReminders runs the reminder job now.
func (h *Handler) SendReminders(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, reconcile.JobReminders)
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request, name string) {
	run, err := h.Scheduler.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, reconcile.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "Job not found", err)
		return
	case errors.Is(err, reconcile.ErrJobRunning):
		writeError(w, http.StatusConflict, "Job is already running", err)
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Job failed",
			"run":   toJobRunDTO(run),
		})
		return
	}
	writeJSON(w, http.StatusOK, toJobRunDTO(run))
}

// ListJobRuns returns job run history.
// GET /api/admin/jobs/runs
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	runs, err := h.Store.ListJobRuns(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get job runs", err)
		return
	}
	dtos := make([]JobRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toJobRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// PreviewReminders reports the reminder candidates without sending.
func (h *Handler) PreviewReminders(w http.ResponseWriter, r *http.Request) {
	preview, err := h.Reconciler.PreviewReminders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to preview reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(preview))
}

// ListNotifications returns notification log entries, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.NotificationFilter{Type: ledger.NotificationType(q.Get("type"))}
	if raw := q.Get("since"); raw != "" {
		since, err := parseTimestamp(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since format (use YYYY-MM-DD or RFC 3339)", err)
			return
		}
		filter.Since = &since
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	logs, err := h.Store.ListNotifications(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notifications", err)
		return
	}
	dtos := make([]NotificationDTO, 0, len(logs))
	for _, n := range logs {
		dtos = append(dtos, toNotificationDTO(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a ledger error to its HTTP status.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientStock):
		status = http.StatusConflict
	case ledger.IsClientError(err):
		status = http.StatusBadRequest
	case ledger.IsRetryable(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    ledger.Kind(err),
		Details: err.Error(),
	})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}
