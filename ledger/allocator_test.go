package ledger_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
)

// =============================================================================
// SPLIT INSTALLMENTS
// =============================================================================

func TestSplitInstallments_Examples(t *testing.T) {
	tests := []struct {
		name   string
		total  ledger.Cents
		months int
		want   []ledger.Cents
	}{
		{"remainder on first", 10000, 3, []ledger.Cents{3334, 3333, 3333}},
		{"even split", 12000, 4, []ledger.Cents{3000, 3000, 3000, 3000}},
		{"single month", 999, 1, []ledger.Cents{999}},
		{"total below months", 2, 5, []ledger.Cents{2, 0, 0, 0, 0}},
		{"zero total", 0, 3, []ledger.Cents{0, 0, 0}},
		{"34/33/33", 100, 3, []ledger.Cents{34, 33, 33}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.SplitInstallments(tt.total, tt.months))
		})
	}
}

func TestSplitInstallments_NoMonths(t *testing.T) {
	assert.Nil(t, ledger.SplitInstallments(1000, 0))
	assert.Nil(t, ledger.SplitInstallments(1000, -2))
}

func TestSplitInstallments_AlwaysSumsToTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		total := ledger.Cents(rng.Int63n(10_000_000))
		months := 1 + rng.Intn(120)

		parts := ledger.SplitInstallments(total, months)
		require.Len(t, parts, months)

		var sum ledger.Cents
		for j, p := range parts {
			sum += p
			if j > 0 {
				assert.Equal(t, parts[1], p, "all but the first are equal")
				assert.GreaterOrEqual(t, parts[0], p)
			}
		}
		assert.Equal(t, total, sum, "total=%d months=%d", total, months)
		assert.Less(t, parts[0]-total/ledger.Cents(months), ledger.Cents(months))
	}
}

// =============================================================================
// APPLY PAYMENT (pure)
// =============================================================================

func TestApplyPayment_Caps(t *testing.T) {
	tests := []struct {
		name                  string
		outstanding, req      ledger.Cents
		wantApplied, wantLeft ledger.Cents
	}{
		{"exact", 3334, 3334, 3334, 0},
		{"partial", 3334, 1000, 1000, 0},
		{"overpay", 10000, 15000, 10000, 5000},
		{"settled", 0, 500, 0, 500},
		{"non-positive request", 100, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, left := ledger.ApplyPayment(tt.outstanding, tt.req)
			assert.Equal(t, tt.wantApplied, applied)
			assert.Equal(t, tt.wantLeft, left)
			assert.LessOrEqual(t, applied, max(tt.outstanding, 0))
		})
	}
}

// =============================================================================
// STATUS DERIVATION
// =============================================================================

func TestDeriveInstallmentStatus(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 0, 1)

	assert.Equal(t, ledger.InstallmentPaid, ledger.DeriveInstallmentStatus(100, 100, past, now), "paid late is PAID")
	assert.Equal(t, ledger.InstallmentPaid, ledger.DeriveInstallmentStatus(100, 100, future, now))
	assert.Equal(t, ledger.InstallmentLate, ledger.DeriveInstallmentStatus(100, 99, past, now))
	assert.Equal(t, ledger.InstallmentPending, ledger.DeriveInstallmentStatus(100, 0, future, now))
	assert.Equal(t, ledger.InstallmentPending, ledger.DeriveInstallmentStatus(100, 0, now, now), "due exactly now is not late")
}

// TestDeriveContractStatus_AllCombinations checks every mix of paid, late
// and pending installments for contracts of up to four installments.
func TestDeriveContractStatus_AllCombinations(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	type state int
	const (
		paid state = iota
		late
		pending
	)
	build := func(s state) ledger.Installment {
		switch s {
		case paid:
			return ledger.Installment{AmountCents: 100, PaidCents: 100, DueDate: now.AddDate(0, -1, 0)}
		case late:
			return ledger.Installment{AmountCents: 100, PaidCents: 40, DueDate: now.AddDate(0, -1, 0)}
		default:
			return ledger.Installment{AmountCents: 100, DueDate: now.AddDate(0, 1, 0)}
		}
	}

	for n := 1; n <= 4; n++ {
		combos := 1
		for i := 0; i < n; i++ {
			combos *= 3
		}
		for c := 0; c < combos; c++ {
			insts := make([]ledger.Installment, 0, n)
			anyLate, allPaid := false, true
			for i, v := 0, c; i < n; i, v = i+1, v/3 {
				s := state(v % 3)
				insts = append(insts, build(s))
				anyLate = anyLate || s == late
				allPaid = allPaid && s == paid
			}

			want := ledger.ContractActive
			if allPaid {
				want = ledger.ContractClosed
			} else if anyLate {
				want = ledger.ContractDefaulted
			}
			assert.Equal(t, want, ledger.DeriveContractStatus(insts, now), "n=%d combo=%d", n, c)
		}
	}
}

func TestDueDate(t *testing.T) {
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start, ledger.DueDate(start, 0), "first installment is due on the start date")
	assert.Equal(t, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC), ledger.DueDate(start, 1))
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), ledger.DueDate(start, 12))

	endOfMonth := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), ledger.DueDate(endOfMonth, 1))
}
