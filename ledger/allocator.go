package ledger

// =============================================================================
// MONEY ALLOCATOR
// =============================================================================

// SplitInstallments divides total into months amounts. Every installment gets
// floor(total/months); the remainder goes entirely to the first one, so the
// result always sums to total. Returns nil when months < 1.
//
// When total < months most installments are zero and the first carries the
// whole total. That is kept as-is; callers decide whether to accept it.
func SplitInstallments(total Cents, months int) []Cents {
	if months < 1 {
		return nil
	}
	base := total / Cents(months)
	rest := total - base*Cents(months)

	out := make([]Cents, months)
	for i := range out {
		out[i] = base
	}
	out[0] += rest
	return out
}

// ApplyPayment caps requested at the outstanding balance.
// applied is never more than outstanding; leftover is what was not applied.
// A zero (or negative) outstanding applies nothing.
func ApplyPayment(outstanding, requested Cents) (applied, leftover Cents) {
	if outstanding <= 0 || requested <= 0 {
		return 0, max(requested, 0)
	}
	applied = min(requested, outstanding)
	return applied, requested - applied
}
