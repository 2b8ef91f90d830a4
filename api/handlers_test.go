/*
handlers_test.go - Tests for API handlers

Tests for:
- Contract creation, stock decrement and the insufficient-stock rollback
- Payments: capping, already-settled no-op, validation, reversal
- Administrative installment edits
- Admin jobs, run history, reminder preview, notification log
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/reconcile"
	"github.com/warp/installment-ledger/store/sqlite"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *sqlite.Store
	h      *Handler
	router http.Handler
}

func newTestEnv(t *testing.T, opts RouterOptions) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return testNow }
	log := zap.NewNop()

	l := ledger.NewLedger(store, log)
	l.Now = clock

	rec := reconcile.NewReconciler(store, reconcile.NewLogSender(log, "Shop"), log)
	rec.Now = clock

	sched := reconcile.NewScheduler(log)
	sched.Recorder = store
	require.NoError(t, reconcile.RegisterJobs(sched, rec, reconcile.DefaultSchedule()))

	h := NewHandler(store, l, rec, sched, log)
	return &testEnv{store: store, h: h, router: NewRouter(h, opts)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedProduct creates a product priced at 100.00 through the API.
func (e *testEnv) seedProduct(t *testing.T, id string, stock int64) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/products", map[string]any{
		"id":              id,
		"name":            "Phone",
		"price":           "100.00",
		"stock":           stock,
		"stock_threshold": 1,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// seedContract sells one unit over three months starting 2025-06-01, so the
// first installment is already due at testNow.
func (e *testEnv) seedContract(t *testing.T, productID string) ContractDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"customer_id": "cus-1",
		"months":      3,
		"start_date":  "2025-06-01",
		"items":       []map[string]any{{"product_id": productID, "qty": 1}},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ContractDTO](t, rec)
}

// =============================================================================
// CONTRACTS
// =============================================================================

func TestCreateContract_BuildsScheduleAndDecrementsStock(t *testing.T) {
	// GIVEN: a product priced 100.00 with 5 in stock
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)

	// WHEN: a 3-month contract for one unit is created
	c := e.seedContract(t, "p1")

	// THEN: the total is split 34/33/33 with the remainder first
	assert.Equal(t, int64(10000), c.TotalCents)
	assert.Equal(t, "100.00", c.Total)
	assert.Equal(t, "ACTIVE", c.Status)
	require.Len(t, c.Installments, 3)
	assert.Equal(t, int64(3334), c.Installments[0].AmountCents)
	assert.Equal(t, int64(3333), c.Installments[1].AmountCents)
	assert.Equal(t, int64(3333), c.Installments[2].AmountCents)
	assert.Equal(t, "2025-06-01T00:00:00Z", c.Installments[0].DueDate)
	assert.Equal(t, "2025-08-01T00:00:00Z", c.Installments[2].DueDate)
	for i, inst := range c.Installments {
		assert.Equal(t, i+1, inst.Seq)
		assert.Equal(t, "PENDING", inst.Status)
	}

	// AND: stock went down by one
	rec := e.do(t, http.MethodGet, "/api/products/p1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4), decodeBody[ProductDTO](t, rec).Stock)

	// AND: the detail endpoint returns items and schedule
	rec = e.do(t, http.MethodGet, "/api/contracts/"+c.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[ContractDTO](t, rec)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, int64(10000), detail.Items[0].LineCents)
	assert.Len(t, detail.Installments, 3)
}

func TestCreateContract_InsufficientStockRollsBack(t *testing.T) {
	// GIVEN: two products, one with a single unit left
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	e.seedProduct(t, "p2", 1)

	// WHEN: a contract asks for 1 of p1 and 2 of p2
	rec := e.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"customer_id": "cus-1",
		"months":      2,
		"items": []map[string]any{
			{"product_id": "p1", "qty": 1},
			{"product_id": "p2", "qty": 2},
		},
	}, "")

	// THEN: 409 with the stock code
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", resp.Code)
	assert.Contains(t, resp.Details, "p2")

	// AND: p1's decrement did not survive, and no contract exists
	rec = e.do(t, http.MethodGet, "/api/products/p1", nil, "")
	assert.Equal(t, int64(5), decodeBody[ProductDTO](t, rec).Stock)
	rec = e.do(t, http.MethodGet, "/api/contracts", nil, "")
	assert.Empty(t, decodeBody[[]ContractDTO](t, rec))
}

func TestCreateContract_Validation(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "missing customer",
			body:   map[string]any{"months": 3, "items": []map[string]any{{"product_id": "p1", "qty": 1}}},
			status: http.StatusBadRequest,
		},
		{
			name:   "no items",
			body:   map[string]any{"customer_id": "c", "months": 3, "items": []map[string]any{}},
			status: http.StatusBadRequest,
		},
		{
			name:   "zero quantity",
			body:   map[string]any{"customer_id": "c", "months": 3, "items": []map[string]any{{"product_id": "p1", "qty": 0}}},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown product",
			body:   map[string]any{"customer_id": "c", "months": 3, "items": []map[string]any{{"product_id": "nope", "qty": 1}}},
			status: http.StatusBadRequest,
			code:   "invalid_product",
		},
		{
			name:   "bad start date",
			body:   map[string]any{"customer_id": "c", "months": 3, "start_date": "June", "items": []map[string]any{{"product_id": "p1", "qty": 1}}},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/contracts", tt.body, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestGetContract_NotFound(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})

	rec := e.do(t, http.MethodGet, "/api/contracts/missing", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestSetContractStatus_Override(t *testing.T) {
	// GIVEN: an active contract
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	c := e.seedContract(t, "p1")

	// WHEN: an admin overrides it to DEFAULTED
	rec := e.do(t, http.MethodPut, "/api/contracts/"+c.ID+"/status", map[string]any{"status": "DEFAULTED"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "DEFAULTED", decodeBody[ContractDTO](t, rec).Status)

	// AND: an unknown status is rejected
	rec = e.do(t, http.MethodPut, "/api/contracts/"+c.ID+"/status", map[string]any{"status": "LOST"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayInstallment_CapsAtOutstanding(t *testing.T) {
	// GIVEN: a contract whose first installment owes 33.34
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	c := e.seedContract(t, "p1")
	first := c.Installments[0]

	// WHEN: 150.00 is paid against it
	rec := e.do(t, http.MethodPost, "/api/installments/"+first.ID+"/pay", map[string]any{"amount": "150.00"}, "")

	// THEN: only the outstanding amount is applied
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[PaymentResultDTO](t, rec)
	assert.Equal(t, int64(3334), res.AppliedCents)
	assert.Equal(t, int64(11666), res.LeftoverCents)
	assert.Equal(t, "PAID", res.InstallmentStatus)
	assert.Equal(t, "ACTIVE", res.ContractStatus)
	require.NotNil(t, res.Payment)
	assert.Equal(t, int64(3334), res.Payment.AmountCents)

	// AND: a second payment is a no-op, not an error
	rec = e.do(t, http.MethodPost, "/api/payments", map[string]any{
		"installment_id": first.ID,
		"amount_cents":   500,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decodeBody[PaymentResultDTO](t, rec)
	assert.True(t, again.AlreadySettled)
	assert.Zero(t, again.AppliedCents)
	assert.Equal(t, int64(500), again.LeftoverCents)
	assert.Nil(t, again.Payment)

	// AND: the installment has exactly one payment
	rec = e.do(t, http.MethodGet, "/api/installments/"+first.ID+"/payments", nil, "")
	assert.Len(t, decodeBody[[]PaymentDTO](t, rec), 1)
}

func TestPayInstallment_Validation(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	c := e.seedContract(t, "p1")
	path := "/api/installments/" + c.Installments[1].ID + "/pay"

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing amount", path, map[string]any{}, http.StatusBadRequest, ""},
		{"fractional cents", path, map[string]any{"amount": "1.005"}, http.StatusBadRequest, ""},
		{"both forms", path, map[string]any{"amount": "1.00", "amount_cents": 100}, http.StatusBadRequest, ""},
		{"zero", path, map[string]any{"amount_cents": 0}, http.StatusBadRequest, "invalid_amount"},
		{"negative", path, map[string]any{"amount": "-5"}, http.StatusBadRequest, "invalid_amount"},
		{"unknown installment", "/api/installments/nope/pay", map[string]any{"amount_cents": 100}, http.StatusNotFound, "invalid_installment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
			}
		})
	}

	// AND: nothing was paid
	rec := e.do(t, http.MethodGet, "/api/installments/"+c.Installments[1].ID, nil, "")
	var body struct {
		Installment InstallmentDTO `json:"installment"`
		Payments    []PaymentDTO   `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Installment.PaidCents)
	assert.Empty(t, body.Payments)
}

func TestDeletePayment_ReversesAndRederives(t *testing.T) {
	// GIVEN: the past-due first installment paid in full
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	c := e.seedContract(t, "p1")
	first := c.Installments[0]
	rec := e.do(t, http.MethodPost, "/api/installments/"+first.ID+"/pay", map[string]any{"amount_cents": 3334}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	paymentID := decodeBody[PaymentResultDTO](t, rec).Payment.ID

	// WHEN: the payment is deleted
	rec = e.do(t, http.MethodDelete, "/api/payments/"+paymentID, nil, "")

	// THEN: the installment is LATE again and the contract DEFAULTED
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rev := decodeBody[ReversalDTO](t, rec)
	assert.Equal(t, int64(3334), rev.ReversedCents)
	assert.Zero(t, rev.PaidCents)
	assert.Equal(t, "LATE", rev.InstallmentStatus)
	assert.Equal(t, "DEFAULTED", rev.ContractStatus)

	// AND: the payment is gone
	rec = e.do(t, http.MethodGet, "/api/payments/"+paymentID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/payments/"+paymentID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// INSTALLMENT EDITS
// =============================================================================

func TestUpdateInstallment(t *testing.T) {
	// GIVEN: 10.00 paid on the second installment
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	c := e.seedContract(t, "p1")
	second := c.Installments[1]
	rec := e.do(t, http.MethodPost, "/api/installments/"+second.ID+"/pay", map[string]any{"amount": "10"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: the amount is lowered below what was paid
	rec = e.do(t, http.MethodPatch, "/api/installments/"+second.ID, map[string]any{"amount_cents": 999}, "")

	// THEN: rejected with invalid_amount
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", decodeBody[ErrorResponse](t, rec).Code)

	// WHEN: the amount is lowered exactly to what was paid
	rec = e.do(t, http.MethodPatch, "/api/installments/"+second.ID, map[string]any{"amount": "10.00"}, "")

	// THEN: the installment is re-derived as PAID
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inst := decodeBody[InstallmentDTO](t, rec)
	assert.Equal(t, int64(1000), inst.AmountCents)
	assert.Equal(t, "PAID", inst.Status)

	// WHEN: the due date of the third moves into the past
	rec = e.do(t, http.MethodPatch, "/api/installments/"+c.Installments[2].ID, map[string]any{"due_date": "2025-06-10"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "LATE", decodeBody[InstallmentDTO](t, rec).Status)

	// AND: the contract was recalculated
	rec = e.do(t, http.MethodGet, "/api/contracts/"+c.ID, nil, "")
	assert.Equal(t, "DEFAULTED", decodeBody[ContractDTO](t, rec).Status)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestRunJob_OverdueSweep(t *testing.T) {
	// GIVEN: a contract whose first installment is past due but PENDING
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	c := e.seedContract(t, "p1")

	// WHEN: the overdue job is run on demand
	rec := e.do(t, http.MethodPost, "/api/admin/jobs/run", map[string]any{"job": "overdue"}, "")

	// THEN: one installment changed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[JobRunDTO](t, rec)
	assert.Equal(t, "overdue", run.Job)
	assert.Equal(t, "manual", run.Trigger)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 1, run.Affected)

	rec = e.do(t, http.MethodGet, "/api/contracts/"+c.ID, nil, "")
	detail := decodeBody[ContractDTO](t, rec)
	assert.Equal(t, "DEFAULTED", detail.Status)
	assert.Equal(t, "LATE", detail.Installments[0].Status)
	assert.Equal(t, "PENDING", detail.Installments[1].Status)

	// AND: the run is in the history
	rec = e.do(t, http.MethodGet, "/api/admin/jobs/runs?job=overdue", nil, "")
	var runs struct {
		Runs []JobRunDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, "completed", runs.Runs[0].Status)

	// AND: the sweep left an audit entry
	rec = e.do(t, http.MethodGet, "/api/admin/notifications?type=SCHEDULER_OVERDUE", nil, "")
	var logs struct {
		Notifications []NotificationDTO `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs.Notifications, 1)
	assert.EqualValues(t, 1, logs.Notifications[0].Payload["count"])
}

func TestRunJob_UnknownJob(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})

	rec := e.do(t, http.MethodPost, "/api/admin/jobs/run", map[string]any{"job": "rollover"}, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "job must be one of")
}

func TestListJobs(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})

	rec := e.do(t, http.MethodGet, "/api/admin/jobs", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Jobs []reconcile.JobInfo `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 4)
	assert.Equal(t, "low-stock", body.Jobs[0].Name)
	assert.Equal(t, "daily at 08:30", body.Jobs[0].Schedule)
	assert.Equal(t, "every 15m0s", body.Jobs[1].Schedule)
}

func TestReminders_PreviewThenSend(t *testing.T) {
	// GIVEN: one overdue installment; the next is due 2025-07-01, outside
	// the 3-day window
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "p1", 5)
	c := e.seedContract(t, "p1")

	// WHEN: reminders are previewed
	rec := e.do(t, http.MethodGet, "/api/admin/reminders/preview", nil, "")

	// THEN: one overdue candidate, nothing upcoming
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[ReminderPreviewDTO](t, rec)
	assert.Equal(t, 1, preview.Overdue.Candidates)
	assert.Equal(t, 1, preview.Overdue.Eligible)
	require.Len(t, preview.Overdue.Sample, 1)
	assert.Equal(t, c.Installments[0].ID, preview.Overdue.Sample[0].InstallmentID)
	assert.Equal(t, "cus-1", preview.Overdue.Sample[0].CustomerID)
	assert.Zero(t, preview.Upcoming.Candidates)

	// WHEN: reminders are sent twice
	rec = e.do(t, http.MethodPost, "/api/admin/reminders/send", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[JobRunDTO](t, rec).Affected)
	rec = e.do(t, http.MethodPost, "/api/admin/reminders/send", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: the second run is deduplicated
	assert.Equal(t, 0, decodeBody[JobRunDTO](t, rec).Affected)
	logs, err := e.store.ListNotifications(context.Background(), ledger.NotificationFilter{Type: ledger.NotifyReminderOverdue})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, true, logs[0].Payload["ok"])
}

func TestListProducts_LowStockFilter(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})
	e.seedProduct(t, "plenty", 10)
	e.seedProduct(t, "scarce", 1)

	rec := e.do(t, http.MethodGet, "/api/products?low_stock=true", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	products := decodeBody[[]ProductDTO](t, rec)
	require.Len(t, products, 1)
	assert.Equal(t, "scarce", products[0].ID)
	assert.True(t, products[0].LowStock)
}

func TestUpdateProduct_NotFound(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})

	rec := e.do(t, http.MethodPut, "/api/products/nope", map[string]any{"name": "X", "price_cents": 100}, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t, RouterOptions{})

	rec := e.do(t, http.MethodGet, "/status", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]any](t, rec)["status"])
}

func TestMetricsRoute(t *testing.T) {
	metrics := reconcile.NewMetrics()
	e := newTestEnv(t, RouterOptions{Metrics: metrics.Handler()})
	e.h.Scheduler.Metrics = metrics

	rec := e.do(t, http.MethodPost, "/api/admin/jobs/run", map[string]any{"job": "paid"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ledger_job_runs_total{job="paid",status="completed"} 1`)
}
