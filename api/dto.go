/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger entities from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Every amount is returned twice: "*_cents" (integer) and a two-decimal
  string. Requests take either "amount_cents" or "amount"; see AmountFields.

VALIDATION:
  Request structs carry go-playground/validator tags. Handlers call
  h.decode, which decodes and validates in one step.

SEE ALSO:
  - handlers.go: Uses these types
  - money.go: ParseCents
*/
package api

import (
	"errors"
	"time"

	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/reconcile"
)

const dateLayout = "2006-01-02"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MONEY INPUT
// =============================================================================

// AmountFields accepts an amount as integer cents or as a decimal string.
type AmountFields struct {
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

var errAmountMissing = errors.New("amount_cents or amount is required")

func (a AmountFields) cents() (ledger.Cents, error) {
	switch {
	case a.AmountCents != nil && a.Amount != "":
		return 0, errors.New("give amount_cents or amount, not both")
	case a.AmountCents != nil:
		return ledger.Cents(*a.AmountCents), nil
	case a.Amount != "":
		return ParseCents(a.Amount)
	}
	return 0, errAmountMissing
}

// parseTimestamp accepts YYYY-MM-DD or RFC 3339. Empty yields the zero time.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PriceCents     int64  `json:"price_cents"`
	Price          string `json:"price"`
	Stock          int64  `json:"stock"`
	StockThreshold int64  `json:"stock_threshold"`
	LowStock       bool   `json:"low_stock"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// SaveProductRequest creates or replaces a product. The price is given the
// same way as a payment amount.
type SaveProductRequest struct {
	ID             string `json:"id" validate:"omitempty,max=64"`
	Name           string `json:"name" validate:"required,max=200"`
	PriceCents     *int64 `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	Price          string `json:"price,omitempty"`
	Stock          int64  `json:"stock" validate:"gte=0"`
	StockThreshold int64  `json:"stock_threshold" validate:"gte=0"`
}

func toProductDTO(p ledger.Product) ProductDTO {
	return ProductDTO{
		ID:             p.ID,
		Name:           p.Name,
		PriceCents:     int64(p.PriceCents),
		Price:          formatAmount(p.PriceCents),
		Stock:          p.Stock,
		StockThreshold: p.StockThreshold,
		LowStock:       p.LowStock(),
		UpdatedAt:      formatTimestamp(p.UpdatedAt),
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

type LineItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int64  `json:"qty" validate:"required,gte=1"`
}

type CreateContractRequest struct {
	CustomerID string            `json:"customer_id" validate:"required"`
	Months     int               `json:"months" validate:"required,gte=1,lte=600"`
	StartDate  string            `json:"start_date,omitempty"`
	Items      []LineItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ContractStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE CLOSED DEFAULTED"`
}

type ContractItemDTO struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Qty        int64  `json:"qty"`
	UnitCents  int64  `json:"unit_cents"`
	LineCents  int64  `json:"line_cents"`
	LineAmount string `json:"line_amount"`
}

type ContractDTO struct {
	ID           string            `json:"id"`
	CustomerID   string            `json:"customer_id"`
	TotalCents   int64             `json:"total_cents"`
	Total        string            `json:"total"`
	Months       int               `json:"months"`
	StartDate    string            `json:"start_date"`
	Status       string            `json:"status"`
	CreatedAt    string            `json:"created_at,omitempty"`
	Items        []ContractItemDTO `json:"items,omitempty"`
	Installments []InstallmentDTO  `json:"installments,omitempty"`
}

func toContractDTO(c ledger.Contract) ContractDTO {
	dto := ContractDTO{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		TotalCents: int64(c.TotalCents),
		Total:      formatAmount(c.TotalCents),
		Months:     c.Months,
		StartDate:  formatTimestamp(c.StartDate),
		Status:     string(c.Status),
		CreatedAt:  formatTimestamp(c.CreatedAt),
	}
	for _, it := range c.Items {
		dto.Items = append(dto.Items, ContractItemDTO{
			ID:         it.ID,
			ProductID:  it.ProductID,
			Qty:        it.Qty,
			UnitCents:  int64(it.UnitCents),
			LineCents:  int64(it.LineTotal()),
			LineAmount: formatAmount(it.LineTotal()),
		})
	}
	for _, inst := range c.Installments {
		dto.Installments = append(dto.Installments, toInstallmentDTO(inst))
	}
	return dto
}

// =============================================================================
// INSTALLMENTS & PAYMENTS
// =============================================================================

type InstallmentDTO struct {
	ID               string `json:"id"`
	ContractID       string `json:"contract_id"`
	Seq              int    `json:"seq"`
	DueDate          string `json:"due_date"`
	AmountCents      int64  `json:"amount_cents"`
	PaidCents        int64  `json:"paid_cents"`
	OutstandingCents int64  `json:"outstanding_cents"`
	Status           string `json:"status"`
}

func toInstallmentDTO(i ledger.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:               i.ID,
		ContractID:       i.ContractID,
		Seq:              i.Seq,
		DueDate:          formatTimestamp(i.DueDate),
		AmountCents:      int64(i.AmountCents),
		PaidCents:        int64(i.PaidCents),
		OutstandingCents: int64(i.Outstanding()),
		Status:           string(i.Status),
	}
}

// UpdateInstallmentRequest is an administrative edit. Absent fields are kept.
type UpdateInstallmentRequest struct {
	DueDate     *string `json:"due_date,omitempty"`
	AmountCents *int64  `json:"amount_cents,omitempty" validate:"omitempty,gte=0"`
	Amount      *string `json:"amount,omitempty"`
	Status      *string `json:"status,omitempty" validate:"omitempty,oneof=PENDING PAID LATE"`
}

// PayRequest applies a payment to the installment in the URL.
type PayRequest struct {
	AmountFields
	PaidAt string `json:"paid_at,omitempty"`
}

// CreatePaymentRequest applies a payment to the installment in the body.
type CreatePaymentRequest struct {
	InstallmentID string `json:"installment_id" validate:"required"`
	AmountFields
	PaidAt string `json:"paid_at,omitempty"`
}

type PaymentDTO struct {
	ID            string `json:"id"`
	InstallmentID string `json:"installment_id"`
	AmountCents   int64  `json:"amount_cents"`
	Amount        string `json:"amount"`
	PaidAt        string `json:"paid_at"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            p.ID,
		InstallmentID: p.InstallmentID,
		AmountCents:   int64(p.AmountCents),
		Amount:        formatAmount(p.AmountCents),
		PaidAt:        formatTimestamp(p.PaidAt),
		CreatedAt:     formatTimestamp(p.CreatedAt),
	}
}

type PaymentResultDTO struct {
	Payment           *PaymentDTO `json:"payment,omitempty"`
	AppliedCents      int64       `json:"applied_cents"`
	LeftoverCents     int64       `json:"leftover_cents"`
	InstallmentID     string      `json:"installment_id"`
	InstallmentStatus string      `json:"installment_status"`
	ContractID        string      `json:"contract_id"`
	ContractStatus    string      `json:"contract_status"`
	AlreadySettled    bool        `json:"already_settled"`
}

func toPaymentResultDTO(res *ledger.PaymentResult) PaymentResultDTO {
	dto := PaymentResultDTO{
		AppliedCents:      int64(res.AppliedCents),
		LeftoverCents:     int64(res.LeftoverCents),
		InstallmentID:     res.InstallmentID,
		InstallmentStatus: string(res.InstallmentStatus),
		ContractID:        res.ContractID,
		ContractStatus:    string(res.ContractStatus),
		AlreadySettled:    res.AlreadySettled,
	}
	if res.Payment != nil {
		p := toPaymentDTO(*res.Payment)
		dto.Payment = &p
	}
	return dto
}

type ReversalDTO struct {
	PaymentID         string `json:"payment_id"`
	InstallmentID     string `json:"installment_id"`
	ReversedCents     int64  `json:"reversed_cents"`
	PaidCents         int64  `json:"paid_cents"`
	InstallmentStatus string `json:"installment_status"`
	ContractID        string `json:"contract_id"`
	ContractStatus    string `json:"contract_status"`
}

// =============================================================================
// ADMIN
// =============================================================================

type RunJobRequest struct {
	Job string `json:"job" validate:"required,oneof=overdue paid low-stock reminders"`
}

type JobRunDTO struct {
	ID          string `json:"id"`
	Job         string `json:"job"`
	Trigger     string `json:"trigger"`
	Status      string `json:"status"`
	Affected    int    `json:"affected"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toJobRunDTO(r ledger.JobRun) JobRunDTO {
	dto := JobRunDTO{
		ID:        r.ID,
		Job:       r.Job,
		Trigger:   r.Trigger,
		Status:    r.Status,
		Affected:  r.Affected,
		Error:     r.Error,
		StartedAt: formatTimestamp(r.StartedAt),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = formatTimestamp(*r.CompletedAt)
	}
	return dto
}

type NotificationDTO struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	InstallmentID string         `json:"installment_id,omitempty"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     string         `json:"created_at"`
}

func toNotificationDTO(n ledger.NotificationLog) NotificationDTO {
	return NotificationDTO{
		ID:            n.ID,
		Type:          string(n.Type),
		InstallmentID: n.InstallmentID,
		Payload:       n.Payload,
		CreatedAt:     formatTimestamp(n.CreatedAt),
	}
}

type ReminderCandidateDTO struct {
	Kind             string `json:"kind"`
	InstallmentID    string `json:"installment_id"`
	ContractID       string `json:"contract_id"`
	CustomerID       string `json:"customer_id"`
	Seq              int    `json:"seq"`
	DueDate          string `json:"due_date"`
	OutstandingCents int64  `json:"outstanding_cents"`
	Message          string `json:"message"`
}

func toCandidateDTOs(cands []reconcile.ReminderCandidate) []ReminderCandidateDTO {
	out := make([]ReminderCandidateDTO, 0, len(cands))
	for _, c := range cands {
		out = append(out, ReminderCandidateDTO{
			Kind:             string(c.Kind),
			InstallmentID:    c.InstallmentID,
			ContractID:       c.ContractID,
			CustomerID:       c.CustomerID,
			Seq:              c.Seq,
			DueDate:          formatTimestamp(c.DueDate),
			OutstandingCents: int64(c.OutstandingCents),
			Message:          c.Message,
		})
	}
	return out
}

type PreviewGroupDTO struct {
	Candidates int                    `json:"candidates"`
	Eligible   int                    `json:"eligible"`
	Sample     []ReminderCandidateDTO `json:"sample"`
}

type ReminderPreviewDTO struct {
	Overdue      PreviewGroupDTO `json:"overdue"`
	Upcoming     PreviewGroupDTO `json:"upcoming"`
	DaysBefore   int             `json:"days_before"`
	ResendWindow string          `json:"resend_window"`
	At           string          `json:"at"`
}

func toPreviewDTO(p reconcile.ReminderPreview) ReminderPreviewDTO {
	group := func(g reconcile.PreviewGroup) PreviewGroupDTO {
		return PreviewGroupDTO{Candidates: g.Candidates, Eligible: g.Eligible, Sample: toCandidateDTOs(g.Sample)}
	}
	return ReminderPreviewDTO{
		Overdue:      group(p.Overdue),
		Upcoming:     group(p.Upcoming),
		DaysBefore:   p.DaysBefore,
		ResendWindow: p.Window,
		At:           formatTimestamp(p.At),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
	Seed       int64  `json:"seed,omitempty"`
}
