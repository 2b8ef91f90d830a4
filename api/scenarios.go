/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the database with realistic data for demos. Each scenario
	seeds products and contracts through the ledger itself, so stock,
	schedules and statuses are exactly what real traffic would produce.
	Names and prices come from gofakeit with a fixed seed, so a scenario
	loaded twice with the same seed looks the same.

AVAILABLE SCENARIOS:

	mixed-portfolio:  past-due, partially paid, fully paid and fresh contracts
	low-stock:        products at or below their alert threshold
	reminders:        installments due in the next days and one overdue

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create products
 3. Create contracts with back-dated start dates
 4. Apply payments
 5. Run the overdue and paid sweeps so stored statuses match the clock

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mixed-portfolio", "seed": 42}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ledger handlers the scenarios exercise
  - reconcile/sweeps.go: MarkOverdue, MarkPaid
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/installment-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "mixed-portfolio",
		Name:        "Mixed Portfolio",
		Description: "Past-due, partially paid, fully paid and fresh contracts",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Products at or below their alert threshold",
	},
	{
		ID:          "reminders",
		Name:        "Reminders",
		Description: "Installments due within the reminder window plus one overdue",
	},
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the id of the last loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the database and seeds the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var loader func(context.Context, *gofakeit.Faker) error
	switch req.ScenarioID {
	case "mixed-portfolio":
		loader = h.loadMixedPortfolio
	case "low-stock":
		loader = h.loadLowStock
	case "reminders":
		loader = h.loadReminders
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	faker := gofakeit.New(uint64(req.Seed))
	if err := loader(ctx, faker); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	if err := h.settle(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reconcile scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID), zap.Int64("seed", req.Seed))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// settle runs the status sweeps once so the seeded rows match the clock.
func (h *Handler) settle(ctx context.Context) error {
	if _, err := h.Reconciler.MarkOverdue(ctx); err != nil {
		return err
	}
	_, err := h.Reconciler.MarkPaid(ctx)
	return err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedProduct saves a fake product priced between lo and hi whole units.
func (h *Handler) seedProduct(ctx context.Context, f *gofakeit.Faker, stock, threshold int64, lo, hi int) (ledger.Product, error) {
	p := ledger.Product{
		ID:             "prd-" + uuid.NewString()[:8],
		Name:           f.ProductName(),
		PriceCents:     ledger.Cents(f.Number(lo, hi)) * 100,
		Stock:          stock,
		StockThreshold: threshold,
	}
	if err := h.Store.SaveProduct(ctx, p); err != nil {
		return p, fmt.Errorf("seed product: %w", err)
	}
	return p, nil
}

func customerID(f *gofakeit.Faker) string {
	return fmt.Sprintf("cus-%s-%04d", f.LastName(), f.Number(1, 9999))
}

func monthsAgo(n int) time.Time { return time.Now().UTC().AddDate(0, -n, 0) }

// seedContract creates a contract for one unit of p and pays the first
// paid installments in full.
func (h *Handler) seedContract(ctx context.Context, f *gofakeit.Faker, p ledger.Product, months int, start time.Time, paid int) (*ledger.Contract, error) {
	c, err := h.Ledger.CreateContract(ctx, ledger.CreateContractInput{
		CustomerID: customerID(f),
		Items:      []ledger.LineItem{{ProductID: p.ID, Qty: 1}},
		Months:     months,
		StartDate:  start,
	})
	if err != nil {
		return nil, fmt.Errorf("seed contract: %w", err)
	}
	for i := 0; i < paid && i < len(c.Installments); i++ {
		inst := c.Installments[i]
		if _, err := h.Ledger.ApplyPayment(ctx, inst.ID, inst.AmountCents, inst.DueDate); err != nil {
			return nil, fmt.Errorf("seed payment: %w", err)
		}
	}
	return c, nil
}

func (h *Handler) loadMixedPortfolio(ctx context.Context, f *gofakeit.Faker) error {
	phone, err := h.seedProduct(ctx, f, 20, 3, 300, 900)
	if err != nil {
		return err
	}
	fridge, err := h.seedProduct(ctx, f, 10, 2, 600, 1500)
	if err != nil {
		return err
	}

	// past due, nothing paid
	if _, err := h.seedContract(ctx, f, phone, 6, monthsAgo(4), 0); err != nil {
		return err
	}
	// partially paid: two full installments, half of the third
	c, err := h.seedContract(ctx, f, fridge, 10, monthsAgo(2), 2)
	if err != nil {
		return err
	}
	third := c.Installments[2]
	if _, err := h.Ledger.ApplyPayment(ctx, third.ID, third.AmountCents/2, time.Time{}); err != nil {
		return fmt.Errorf("seed payment: %w", err)
	}
	// fully paid
	if _, err := h.seedContract(ctx, f, phone, 3, monthsAgo(3), 3); err != nil {
		return err
	}
	// fresh, first installment due next week
	_, err = h.seedContract(ctx, f, fridge, 12, time.Now().UTC().AddDate(0, 0, 7), 0)
	return err
}

func (h *Handler) loadLowStock(ctx context.Context, f *gofakeit.Faker) error {
	if _, err := h.seedProduct(ctx, f, 0, 2, 50, 200); err != nil {
		return err
	}
	if _, err := h.seedProduct(ctx, f, 2, 2, 50, 200); err != nil {
		return err
	}
	_, err := h.seedProduct(ctx, f, 40, 5, 50, 200)
	return err
}

func (h *Handler) loadReminders(ctx context.Context, f *gofakeit.Faker) error {
	p, err := h.seedProduct(ctx, f, 10, 1, 200, 600)
	if err != nil {
		return err
	}
	// first installment due in two days
	soon := time.Now().UTC().AddDate(0, 0, 2)
	if _, err := h.Ledger.CreateContract(ctx, ledger.CreateContractInput{
		CustomerID: customerID(f),
		Items:      []ledger.LineItem{{ProductID: p.ID, Qty: 1}},
		Months:     4,
		StartDate:  soon,
	}); err != nil {
		return fmt.Errorf("seed contract: %w", err)
	}
	// one installment a week overdue
	late := time.Now().UTC().AddDate(0, 0, -7)
	if _, err := h.Ledger.CreateContract(ctx, ledger.CreateContractInput{
		CustomerID: customerID(f),
		Items:      []ledger.LineItem{{ProductID: p.ID, Qty: 1}},
		Months:     4,
		StartDate:  late,
	}); err != nil {
		return fmt.Errorf("seed contract: %w", err)
	}
	return nil
}
