/*
store.go - Persistence interface for the ledger

PURPOSE:
  Defines the boundary between ledger rules and the database. A Store is
  one unit of work: outside WithTx every call autocommits, inside WithTx
  every call shares the transaction.

KEY INTERFACES:
  Store:   Reads and writes over products, contracts, installments,
           payments and the notification log
  TxStore: Store + WithTx for atomic multi-step operations

GUARDED WRITES:
  Derived fields that are read-then-written are guarded by the last-read
  value so a concurrent writer cannot be silently overwritten:
  - DecrementStock only succeeds while stock >= qty
  - UpdateInstallmentPaid only succeeds while paid_cents == expected
  - MarkInstallmentsLate / MarkInstallmentsPaid re-check their predicate

MISSING ROWS:
  Get* methods return (nil, nil) when the row does not exist. The Ledger
  turns that into the right error kind.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Products
	GetProduct(ctx context.Context, id string) (*Product, error)
	SaveProduct(ctx context.Context, p Product) error
	ListProducts(ctx context.Context) ([]Product, error)
	ListLowStockProducts(ctx context.Context) ([]Product, error)
	// DecrementStock subtracts qty only if enough stock remains.
	// Returns false (and changes nothing) otherwise.
	DecrementStock(ctx context.Context, productID string, qty int64) (bool, error)

	// Contracts
	InsertContract(ctx context.Context, c Contract) error // with c.Items
	GetContract(ctx context.Context, id string) (*Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error)
	ListContractItems(ctx context.Context, contractID string) ([]ContractItem, error)
	UpdateContractStatus(ctx context.Context, id string, status ContractStatus) error

	// Installments
	InsertInstallments(ctx context.Context, insts []Installment) error
	GetInstallment(ctx context.Context, id string) (*Installment, error)
	ListInstallments(ctx context.Context, contractID string) ([]Installment, error)
	// UpdateInstallmentPaid sets paid_cents to next only while it still equals
	// expected. Returns ErrConcurrentModification otherwise.
	UpdateInstallmentPaid(ctx context.Context, id string, expected, next Cents) error
	UpdateInstallmentStatus(ctx context.Context, id string, status InstallmentStatus) error
	UpdateInstallmentTerms(ctx context.Context, id string, amount Cents, due time.Time) error

	// Sweep queries
	ListOverdueInstallments(ctx context.Context, now time.Time) ([]Installment, error)
	ListSettledUnmarkedInstallments(ctx context.Context) ([]Installment, error)
	ListUnpaidDueBetween(ctx context.Context, from, to time.Time) ([]Installment, error)
	MarkInstallmentsLate(ctx context.Context, ids []string, now time.Time) (int64, error)
	MarkInstallmentsPaid(ctx context.Context, ids []string) (int64, error)

	// Payments
	InsertPayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	DeletePayment(ctx context.Context, id string) error
	ListPayments(ctx context.Context, installmentID string) ([]Payment, error)

	// Notification log (append-only)
	AppendNotification(ctx context.Context, n NotificationLog) error
	CountNotifications(ctx context.Context, typ NotificationType, installmentID string, since time.Time) (int, error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]NotificationLog, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error (or ctx is cancelled), the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
