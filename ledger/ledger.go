/*
ledger.go - Transactional operations over the Store

PURPOSE:
  The four atomic operations of the engine plus the administrative edits.
  Each runs inside one Store.WithTx call: it fully commits or fully rolls
  back, including on context cancellation.

OPERATIONS:
  CreateContract:         price lookup, stock decrement, contract + schedule
  ApplyPayment:           capped allocation, payment row, paid/status refresh
  ReversePayment:         delete payment, decrement paid, status refresh
  RecalculateContract:    re-derive every installment, then the contract
  UpdateInstallment:      admin edit of due date / amount / status
  OverrideContractStatus: admin override of the contract status

STATUS REFRESH:
  Statuses are never patched incrementally. After any mutation the
  installment status is re-derived from (amount, paid, due, now) and the
  contract status from the full refreshed installment set.

RETRIES:
  ApplyPayment and ReversePayment update paid_cents with a guard on the
  last-read value. A lost race surfaces as ErrConcurrentModification, the
  transaction rolls back, and the operation is retried from a fresh read.

SEE ALSO:
  - status.go: derivation rules
  - allocator.go: split and cap arithmetic
  - store.go: persistence contract
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store TxStore
	Log   *zap.Logger

	// Now is the clock used for status derivation. Defaults to time.Now.
	Now func() time.Time
	// NewID generates row ids. Defaults to uuid.NewString.
	NewID func() string
	// MaxAttempts bounds retries after ErrConcurrentModification.
	MaxAttempts int
}

func NewLedger(store TxStore, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		Store:       store,
		Log:         log,
		Now:         time.Now,
		NewID:       uuid.NewString,
		MaxAttempts: defaultMaxAttempts,
	}
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Ledger) newID() string {
	if l.NewID == nil {
		return uuid.NewString()
	}
	return l.NewID()
}

// retry runs fn again while it fails with a retryable error.
func (l *Ledger) retry(ctx context.Context, op string, fn func() error) error {
	attempts := l.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.Log.Warn("retrying after concurrent modification",
			zap.String("op", op), zap.Int("attempt", i+1))
	}
	return err
}

// =============================================================================
// CREATE CONTRACT
// =============================================================================

type LineItem struct {
	ProductID string
	Qty       int64
}

type CreateContractInput struct {
	CustomerID string
	Items      []LineItem
	Months     int
	StartDate  time.Time // zero means now
}

func (in CreateContractInput) validate() error {
	if in.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidContract)
	}
	if in.Months < 1 {
		return fmt.Errorf("%w: months must be at least 1", ErrInvalidContract)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidContract)
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: item without product id", ErrInvalidContract)
		}
		if it.Qty < 1 {
			return fmt.Errorf("%w: quantity for %s must be at least 1", ErrInvalidContract, it.ProductID)
		}
	}
	return nil
}

// CreateContract prices the items, decrements stock and writes the contract
// with its installment schedule. Any failure leaves every table unchanged.
func (l *Ledger) CreateContract(ctx context.Context, in CreateContractInput) (*Contract, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := l.now()
	start := in.StartDate
	if start.IsZero() {
		start = now
	}

	contract := Contract{
		ID:         l.newID(),
		CustomerID: in.CustomerID,
		Months:     in.Months,
		StartDate:  start,
		Status:     ContractActive,
		CreatedAt:  now,
	}

	err := l.Store.WithTx(ctx, func(s Store) error {
		var total Cents
		items := make([]ContractItem, 0, len(in.Items))
		for _, it := range in.Items {
			p, err := s.GetProduct(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("%w: %s", ErrInvalidProduct, it.ProductID)
			}

			ok, err := s.DecrementStock(ctx, p.ID, it.Qty)
			if err != nil {
				return err
			}
			if !ok {
				available := p.Stock
				if fresh, ferr := s.GetProduct(ctx, p.ID); ferr == nil && fresh != nil {
					available = fresh.Stock
				}
				return &InsufficientStockError{ProductID: p.ID, Available: available, Requested: it.Qty}
			}

			item := ContractItem{
				ID:         l.newID(),
				ContractID: contract.ID,
				ProductID:  p.ID,
				Qty:        it.Qty,
				UnitCents:  p.PriceCents,
			}
			total += item.LineTotal()
			items = append(items, item)
		}

		contract.TotalCents = total
		contract.Items = items
		if err := s.InsertContract(ctx, contract); err != nil {
			return err
		}

		amounts := SplitInstallments(total, in.Months)
		insts := make([]Installment, len(amounts))
		for i, amt := range amounts {
			insts[i] = Installment{
				ID:          l.newID(),
				ContractID:  contract.ID,
				Seq:         i + 1,
				DueDate:     DueDate(start, i),
				AmountCents: amt,
				Status:      InstallmentPending,
			}
		}
		if err := s.InsertInstallments(ctx, insts); err != nil {
			return err
		}
		contract.Installments = insts
		return nil
	})
	if err != nil {
		l.Log.Info("contract rejected",
			zap.String("customer_id", in.CustomerID), zap.Error(err))
		return nil, err
	}

	l.Log.Info("contract created",
		zap.String("contract_id", contract.ID),
		zap.String("customer_id", contract.CustomerID),
		zap.Int64("total_cents", int64(contract.TotalCents)),
		zap.Int("months", contract.Months))
	return &contract, nil
}

// =============================================================================
// APPLY PAYMENT
// =============================================================================

type PaymentResult struct {
	Payment           *Payment // nil when nothing was applied
	AppliedCents      Cents
	LeftoverCents     Cents
	InstallmentID     string
	InstallmentStatus InstallmentStatus
	ContractID        string
	ContractStatus    ContractStatus
	// AlreadySettled is set when the installment had nothing outstanding.
	AlreadySettled bool
}

// ApplyPayment applies at most the outstanding balance of an installment.
// A request against a settled installment is a successful no-op.
func (l *Ledger) ApplyPayment(ctx context.Context, installmentID string, requested Cents, paidAt time.Time) (*PaymentResult, error) {
	if requested <= 0 {
		return nil, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}

	var result *PaymentResult
	err := l.retry(ctx, "apply_payment", func() error {
		result = nil
		return l.Store.WithTx(ctx, func(s Store) error {
			r, err := l.applyPaymentTx(ctx, s, installmentID, requested, paidAt)
			result = r
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadySettled {
		l.Log.Info("payment on settled installment",
			zap.String("installment_id", installmentID),
			zap.Int64("requested_cents", int64(requested)))
	} else {
		l.Log.Info("payment applied",
			zap.String("installment_id", installmentID),
			zap.String("payment_id", result.Payment.ID),
			zap.Int64("applied_cents", int64(result.AppliedCents)),
			zap.Int64("leftover_cents", int64(result.LeftoverCents)),
			zap.String("installment_status", string(result.InstallmentStatus)),
			zap.String("contract_status", string(result.ContractStatus)))
	}
	return result, nil
}

func (l *Ledger) applyPaymentTx(ctx context.Context, s Store, installmentID string, requested Cents, paidAt time.Time) (*PaymentResult, error) {
	inst, err := s.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInstallment, installmentID)
	}

	now := l.now()
	applied, leftover := ApplyPayment(inst.Outstanding(), requested)
	if applied == 0 {
		c, err := s.GetContract(ctx, inst.ContractID)
		if err != nil {
			return nil, err
		}
		res := &PaymentResult{
			LeftoverCents:     leftover,
			InstallmentID:     inst.ID,
			InstallmentStatus: inst.Status,
			ContractID:        inst.ContractID,
			AlreadySettled:    true,
		}
		if c != nil {
			res.ContractStatus = c.Status
		}
		return res, nil
	}

	if paidAt.IsZero() {
		paidAt = now
	}
	payment := Payment{
		ID:            l.newID(),
		InstallmentID: inst.ID,
		AmountCents:   applied,
		PaidAt:        paidAt.UTC(),
		CreatedAt:     now,
	}
	if err := s.InsertPayment(ctx, payment); err != nil {
		return nil, err
	}
	if err := s.UpdateInstallmentPaid(ctx, inst.ID, inst.PaidCents, inst.PaidCents+applied); err != nil {
		return nil, err
	}

	status := DeriveInstallmentStatus(inst.AmountCents, inst.PaidCents+applied, inst.DueDate, now)
	if status != inst.Status {
		if err := s.UpdateInstallmentStatus(ctx, inst.ID, status); err != nil {
			return nil, err
		}
	}

	cs, err := refreshContractStatus(ctx, s, inst.ContractID, now)
	if err != nil {
		return nil, err
	}

	return &PaymentResult{
		Payment:           &payment,
		AppliedCents:      applied,
		LeftoverCents:     leftover,
		InstallmentID:     inst.ID,
		InstallmentStatus: status,
		ContractID:        inst.ContractID,
		ContractStatus:    cs,
	}, nil
}

// =============================================================================
// REVERSE PAYMENT
// =============================================================================

type ReversalResult struct {
	PaymentID         string
	InstallmentID     string
	ReversedCents     Cents
	PaidCents         Cents
	InstallmentStatus InstallmentStatus
	ContractID        string
	ContractStatus    ContractStatus
}

// ReversePayment deletes a payment and takes its amount back off the
// owning installment.
func (l *Ledger) ReversePayment(ctx context.Context, paymentID string) (*ReversalResult, error) {
	var result *ReversalResult
	err := l.retry(ctx, "reverse_payment", func() error {
		result = nil
		return l.Store.WithTx(ctx, func(s Store) error {
			r, err := l.reversePaymentTx(ctx, s, paymentID)
			result = r
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	l.Log.Info("payment reversed",
		zap.String("payment_id", paymentID),
		zap.String("installment_id", result.InstallmentID),
		zap.Int64("reversed_cents", int64(result.ReversedCents)),
		zap.String("installment_status", string(result.InstallmentStatus)),
		zap.String("contract_status", string(result.ContractStatus)))
	return result, nil
}

func (l *Ledger) reversePaymentTx(ctx context.Context, s Store, paymentID string) (*ReversalResult, error) {
	p, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	inst, err := s.GetInstallment(ctx, p.InstallmentID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: installment %s", ErrNotFound, p.InstallmentID)
	}

	if err := s.DeletePayment(ctx, p.ID); err != nil {
		return nil, err
	}
	paid := inst.PaidCents - p.AmountCents
	if paid < 0 {
		paid = 0
	}
	if err := s.UpdateInstallmentPaid(ctx, inst.ID, inst.PaidCents, paid); err != nil {
		return nil, err
	}

	now := l.now()
	status := DeriveInstallmentStatus(inst.AmountCents, paid, inst.DueDate, now)
	if status != inst.Status {
		if err := s.UpdateInstallmentStatus(ctx, inst.ID, status); err != nil {
			return nil, err
		}
	}
	cs, err := refreshContractStatus(ctx, s, inst.ContractID, now)
	if err != nil {
		return nil, err
	}

	return &ReversalResult{
		PaymentID:         p.ID,
		InstallmentID:     inst.ID,
		ReversedCents:     p.AmountCents,
		PaidCents:         paid,
		InstallmentStatus: status,
		ContractID:        inst.ContractID,
		ContractStatus:    cs,
	}, nil
}

// =============================================================================
// RECALCULATE CONTRACT
// =============================================================================

// RecalculateContract re-derives every installment status and then the
// contract status. Rows already correct are not written, so repeated calls
// change nothing.
func (l *Ledger) RecalculateContract(ctx context.Context, contractID string) (*Contract, error) {
	var out *Contract
	err := l.Store.WithTx(ctx, func(s Store) error {
		c, err := RecalculateIn(ctx, s, contractID, l.now())
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecalculateIn is RecalculateContract against an open unit of work.
func RecalculateIn(ctx context.Context, s Store, contractID string, now time.Time) (*Contract, error) {
	c, err := s.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, contractID)
	}

	insts, err := s.ListInstallments(ctx, contractID)
	if err != nil {
		return nil, err
	}
	for i := range insts {
		want := DeriveInstallmentStatus(insts[i].AmountCents, insts[i].PaidCents, insts[i].DueDate, now)
		if want == insts[i].Status {
			continue
		}
		if err := s.UpdateInstallmentStatus(ctx, insts[i].ID, want); err != nil {
			return nil, err
		}
		insts[i].Status = want
	}

	cs := DeriveContractStatus(insts, now)
	if cs != c.Status {
		if err := s.UpdateContractStatus(ctx, c.ID, cs); err != nil {
			return nil, err
		}
		c.Status = cs
	}
	c.Installments = insts
	return c, nil
}

// refreshContractStatus derives the contract status from its stored
// installments and persists it when it changed.
func refreshContractStatus(ctx context.Context, s Store, contractID string, now time.Time) (ContractStatus, error) {
	c, err := s.GetContract(ctx, contractID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("%w: contract %s", ErrNotFound, contractID)
	}
	insts, err := s.ListInstallments(ctx, contractID)
	if err != nil {
		return "", err
	}
	cs := DeriveContractStatus(insts, now)
	if cs != c.Status {
		if err := s.UpdateContractStatus(ctx, c.ID, cs); err != nil {
			return "", err
		}
	}
	return cs, nil
}

// =============================================================================
// ADMINISTRATIVE EDITS
// =============================================================================

// InstallmentPatch holds the fields an administrator may change. Nil fields
// are left as they are.
type InstallmentPatch struct {
	DueDate     *time.Time
	AmountCents *Cents
	Status      *InstallmentStatus
}

// UpdateInstallment edits an installment's terms. The amount may never go
// below what was already paid. Without an explicit status the status is
// re-derived. The owning contract is recalculated in the same transaction.
func (l *Ledger) UpdateInstallment(ctx context.Context, id string, patch InstallmentPatch) (*Installment, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.Status)
	}
	if patch.AmountCents != nil && *patch.AmountCents < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidAmount)
	}

	var out *Installment
	err := l.Store.WithTx(ctx, func(s Store) error {
		inst, err := s.GetInstallment(ctx, id)
		if err != nil {
			return err
		}
		if inst == nil {
			return fmt.Errorf("%w: installment %s", ErrNotFound, id)
		}

		amount, due := inst.AmountCents, inst.DueDate
		if patch.AmountCents != nil {
			amount = *patch.AmountCents
		}
		if patch.DueDate != nil {
			due = patch.DueDate.UTC()
		}
		if amount < inst.PaidCents {
			return fmt.Errorf("%w: amount %d is below paid %d", ErrInvalidAmount, amount, inst.PaidCents)
		}

		if amount != inst.AmountCents || !due.Equal(inst.DueDate) {
			if err := s.UpdateInstallmentTerms(ctx, inst.ID, amount, due); err != nil {
				return err
			}
		}

		now := l.now()
		status := DeriveInstallmentStatus(amount, inst.PaidCents, due, now)
		if patch.Status != nil {
			status = *patch.Status
		}
		if status != inst.Status {
			if err := s.UpdateInstallmentStatus(ctx, inst.ID, status); err != nil {
				return err
			}
		}
		if _, err := refreshContractStatus(ctx, s, inst.ContractID, now); err != nil {
			return err
		}

		inst.AmountCents, inst.DueDate, inst.Status = amount, due, status
		out = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.Log.Info("installment updated",
		zap.String("installment_id", out.ID),
		zap.Int64("amount_cents", int64(out.AmountCents)),
		zap.String("status", string(out.Status)))
	return out, nil
}

// OverrideContractStatus sets a contract status directly. The next
// recalculation will re-derive it.
func (l *Ledger) OverrideContractStatus(ctx context.Context, id string, status ContractStatus) (*Contract, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var out *Contract
	err := l.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetContract(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: contract %s", ErrNotFound, id)
		}
		if c.Status != status {
			if err := s.UpdateContractStatus(ctx, id, status); err != nil {
				return err
			}
			c.Status = status
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.Log.Info("contract status overridden",
		zap.String("contract_id", id), zap.String("status", string(status)))
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

// Contract loads a contract with its items and schedule.
func (l *Ledger) Contract(ctx context.Context, id string) (*Contract, error) {
	c, err := l.Store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	if c.Items, err = l.Store.ListContractItems(ctx, id); err != nil {
		return nil, err
	}
	if c.Installments, err = l.Store.ListInstallments(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

// Installment loads one installment with its payments.
func (l *Ledger) Installment(ctx context.Context, id string) (*Installment, []Payment, error) {
	inst, err := l.Store.GetInstallment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if inst == nil {
		return nil, nil, fmt.Errorf("%w: installment %s", ErrNotFound, id)
	}
	payments, err := l.Store.ListPayments(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return inst, payments, nil
}

// IsInsufficientStock unpacks an InsufficientStockError.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}
