package ledger

import "time"

// =============================================================================
// STATUS DERIVATION - pure, shared by payments and sweeps
// =============================================================================

// DeriveInstallmentStatus computes an installment's status at now.
// PAID wins over lateness: an installment paid after its due date is PAID.
func DeriveInstallmentStatus(amount, paid Cents, due, now time.Time) InstallmentStatus {
	if paid >= amount {
		return InstallmentPaid
	}
	if due.Before(now) {
		return InstallmentLate
	}
	return InstallmentPending
}

// DeriveContractStatus computes a contract's status from all its installments.
// CLOSED is checked first, then DEFAULTED, otherwise ACTIVE.
func DeriveContractStatus(insts []Installment, now time.Time) ContractStatus {
	allPaid := true
	anyLateUnpaid := false
	for _, i := range insts {
		if i.PaidCents < i.AmountCents {
			allPaid = false
		}
		if i.PastDueUnpaid(now) {
			anyLateUnpaid = true
		}
	}
	switch {
	case allPaid:
		return ContractClosed
	case anyLateUnpaid:
		return ContractDefaulted
	default:
		return ContractActive
	}
}

// DueDate returns start shifted by i calendar months.
// Day overflow normalises the way time.Date does (Jan 31 + 1 month = Mar 3).
func DueDate(start time.Time, i int) time.Time {
	return time.Date(start.Year(), start.Month()+time.Month(i), start.Day(),
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
}
