/*
Package ledger is the installment-credit engine.

PURPOSE:
  A customer buys products on credit. The contract total is split into
  monthly installments, payments are applied against installments, and the
  status of every installment and contract is derived from amounts and
  dates. This package holds the entities, the money and status rules, and
  the transactional operations over a Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cents: all money, integer minor units. Never float.
  - Product: catalog row; stock is decremented by contract creation.
  - Contract: immutable total + schedule; only Status changes afterwards.
  - Installment: one scheduled sub-payment (Seq 1..Months).
  - Payment: an applied amount, owned by exactly one installment.
  - NotificationLog: append-only audit / dedup entries.

INVARIANTS:
  1. sum(installment.AmountCents) == contract.TotalCents at creation
  2. installment.PaidCents == sum of its payments
  3. Status fields are always re-derived, never patched incrementally

SEE ALSO:
  - allocator.go: SplitInstallments, ApplyPayment
  - status.go: DeriveInstallmentStatus, DeriveContractStatus
  - ledger.go: CreateContract, ApplyPayment, ReversePayment, RecalculateContract
*/
package ledger

import (
	"time"
)

// =============================================================================
// MONEY
// =============================================================================

// Cents is an amount of money in minor units.
type Cents int64

// =============================================================================
// STATUSES
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentLate    InstallmentStatus = "LATE"
)

func (s InstallmentStatus) Valid() bool {
	switch s {
	case InstallmentPending, InstallmentPaid, InstallmentLate:
		return true
	}
	return false
}

type ContractStatus string

const (
	ContractActive    ContractStatus = "ACTIVE"
	ContractClosed    ContractStatus = "CLOSED"
	ContractDefaulted ContractStatus = "DEFAULTED"
)

func (s ContractStatus) Valid() bool {
	switch s {
	case ContractActive, ContractClosed, ContractDefaulted:
		return true
	}
	return false
}

// =============================================================================
// ENTITIES
// =============================================================================

// Product is a catalog entry. Stock never goes below zero.
type Product struct {
	ID             string
	Name           string
	PriceCents     Cents
	Stock          int64
	StockThreshold int64
	UpdatedAt      time.Time
}

// LowStock reports whether the product is at or below its alert threshold.
func (p Product) LowStock() bool { return p.Stock <= p.StockThreshold }

// Contract is a credit sale. TotalCents and the schedule are fixed at creation.
type Contract struct {
	ID         string
	CustomerID string
	TotalCents Cents
	Months     int
	StartDate  time.Time
	Status     ContractStatus
	CreatedAt  time.Time

	// Populated by detail loads only.
	Items        []ContractItem
	Installments []Installment
}

// ContractItem snapshots the unit price at contract creation.
type ContractItem struct {
	ID         string
	ContractID string
	ProductID  string
	Qty        int64
	UnitCents  Cents
}

// LineTotal is Qty * UnitCents.
func (i ContractItem) LineTotal() Cents { return i.UnitCents * Cents(i.Qty) }

type Installment struct {
	ID          string
	ContractID  string
	Seq         int
	DueDate     time.Time
	AmountCents Cents
	PaidCents   Cents
	Status      InstallmentStatus
}

// Outstanding is AmountCents - PaidCents, floored at zero.
func (i Installment) Outstanding() Cents {
	if i.PaidCents >= i.AmountCents {
		return 0
	}
	return i.AmountCents - i.PaidCents
}

// Settled reports whether the installment is fully paid.
func (i Installment) Settled() bool { return i.PaidCents >= i.AmountCents }

// PastDueUnpaid reports whether the installment is overdue and underpaid at now.
func (i Installment) PastDueUnpaid(now time.Time) bool {
	return i.DueDate.Before(now) && i.PaidCents < i.AmountCents
}

// Payment is an applied amount. Immutable; deleting it is a full reversal.
type Payment struct {
	ID            string
	InstallmentID string
	AmountCents   Cents
	PaidAt        time.Time
	CreatedAt     time.Time
}

// =============================================================================
// NOTIFICATION LOG - append-only audit and dedup key set
// =============================================================================

type NotificationType string

const (
	NotifySchedulerOverdue  NotificationType = "SCHEDULER_OVERDUE"
	NotifySchedulerMarkPaid NotificationType = "SCHEDULER_MARK_PAID"
	NotifyLowStock          NotificationType = "LOW_STOCK"
	NotifyReminderOverdue   NotificationType = "REMINDER_OVERDUE"
	NotifyReminderUpcoming  NotificationType = "REMINDER_UPCOMING"
)

// NotificationLog is one audit entry. InstallmentID mirrors
// Payload["installmentId"] when the entry targets an installment.
type NotificationLog struct {
	ID            string
	Type          NotificationType
	InstallmentID string
	Payload       map[string]any
	CreatedAt     time.Time
}

type NotificationFilter struct {
	Type  NotificationType
	Since *time.Time
	Limit int
}

// =============================================================================
// FILTERS
// =============================================================================

type ContractFilter struct {
	CustomerID string
	Status     ContractStatus
	Limit      int
	Offset     int
}

// =============================================================================
// JOB RUNS - scheduler history
// =============================================================================

type JobRun struct {
	ID          string
	Job         string
	Trigger     string // "schedule" or "manual"
	Status      string // "running", "completed", "failed"
	Affected    int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
