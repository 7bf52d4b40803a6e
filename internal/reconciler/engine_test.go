package reconciler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/internal/store/memory"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// failingStore injects errors into selected store calls.
type failingStore struct {
	*memory.Store
	mu             sync.Mutex
	listPaymentErr error
	replaceErr     error
	listResultErrs []error
	listResultCall int
}

func (f *failingStore) ListPayments(ctx context.Context) ([]models.Payment, error) {
	if f.listPaymentErr != nil {
		return nil, f.listPaymentErr
	}
	return f.Store.ListPayments(ctx)
}

func (f *failingStore) ReplaceResults(ctx context.Context, period string, rows []models.ReconciliationResult) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	return f.Store.ReplaceResults(ctx, period, rows)
}

func (f *failingStore) ListResults(ctx context.Context, filter store.ResultFilter) ([]models.ReconciliationResult, int64, error) {
	f.mu.Lock()
	call := f.listResultCall
	f.listResultCall++
	f.mu.Unlock()
	if call < len(f.listResultErrs) && f.listResultErrs[call] != nil {
		return nil, 0, f.listResultErrs[call]
	}
	return f.Store.ListResults(ctx, filter)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seedScenario(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.UpsertOrders(ctx, []models.OrderLine{
		{OrderLineID: "A1", OrderStatus: "C"},
		{OrderLineID: "A2", OrderStatus: "C", Period: "2024-01"},
		{OrderLineID: "A3", OrderStatus: "C", Period: "2024-01"},
		{OrderLineID: "A4", OrderStatus: "F", Period: "2024-01"},
		{OrderLineID: "A5", OrderStatus: "RTO", Period: "2024-01"},
		{OrderLineID: "B1", OrderStatus: "C", Period: "2024-02"},
	}); err != nil {
		t.Fatalf("UpsertOrders() error = %v", err)
	}
	if _, err := st.UpsertCancellations(ctx, []models.Cancellation{{OrderLineID: "A4"}}); err != nil {
		t.Fatalf("UpsertCancellations() error = %v", err)
	}
	if _, err := st.UpsertReturns(ctx, []models.Return{{OrderLineID: "A3"}, {OrderLineID: "A5", Status: "RTO"}}); err != nil {
		t.Fatalf("UpsertReturns() error = %v", err)
	}
	if _, err := st.UpsertReturnCharges(ctx, []models.ReturnCharge{{OrderLineID: "A3", ActualSettlement: dec("-100")}}); err != nil {
		t.Fatalf("UpsertReturnCharges() error = %v", err)
	}
	if _, err := st.UpsertPayments(ctx, []models.Payment{
		{OrderLineID: "A2", CustomerPaidAmount: dec("500"), ExpectedSettlement: dec("450"), ActualSettlement: dec("450")},
		{OrderLineID: "A3", CustomerPaidAmount: dec("500"), ActualSettlement: dec("400")},
		{OrderLineID: "B1", CustomerPaidAmount: dec("200"), ExpectedSettlement: dec("180"), ActualSettlement: dec("180")},
	}); err != nil {
		t.Fatalf("UpsertPayments() error = %v", err)
	}
}

func newTestEngine(st store.Store, clock *fixedClock) *Engine {
	return NewEngine(st, WithClock(clock.Now), WithLogger(logger.NewNop()))
}

func resultsByID(t *testing.T, st store.Store, period string) map[string]models.ReconciliationResult {
	t.Helper()
	rows, _, err := st.ListResults(context.Background(), store.ResultFilter{Period: period})
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	out := make(map[string]models.ReconciliationResult, len(rows))
	for _, r := range rows {
		out[r.OrderLineID] = r
	}
	return out
}

func TestEngineReconcile(t *testing.T) {
	st := memory.New()
	seedScenario(t, st)
	clock := &fixedClock{now: time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC)}
	engine := newTestEngine(st, clock)

	result, err := engine.Reconcile(context.Background(), "2024-01")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Count != 5 {
		t.Errorf("Count = %d, want 5", result.Count)
	}

	wantCounts := models.StatusCounts{
		models.ItemStatusDelivered:     1,
		models.ItemStatusCancelled:     1,
		models.ItemStatusReturned:      1,
		models.ItemStatusRTO:           1,
		models.ItemStatusInTransit:     0,
		models.ItemStatusMiscellaneous: 1,
	}
	for status, want := range wantCounts {
		if got := result.StatusCounts[status]; got != want {
			t.Errorf("StatusCounts[%s] = %d, want %d", status, got, want)
		}
	}

	rows := resultsByID(t, st, "2024-01")
	if _, ok := rows["B1"]; ok {
		t.Error("order line of another period was reconciled")
	}
	tests := []struct {
		id      string
		status  models.ItemStatus
		verdict models.ReconciliationStatus
	}{
		{"A1", models.ItemStatusMiscellaneous, models.ReconciliationPending},
		{"A2", models.ItemStatusDelivered, models.ReconciliationMatched},
		{"A3", models.ItemStatusReturned, models.ReconciliationOverSettled},
		{"A4", models.ItemStatusCancelled, models.ReconciliationPending},
		{"A5", models.ItemStatusRTO, models.ReconciliationPending},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r, ok := rows[tt.id]
			if !ok {
				t.Fatalf("no result for %s", tt.id)
			}
			if r.ItemStatus != tt.status || r.ReconciliationStatus != tt.verdict {
				t.Errorf("got %s/%s, want %s/%s", r.ItemStatus, r.ReconciliationStatus, tt.status, tt.verdict)
			}
			if r.Period != "2024-01" {
				t.Errorf("period = %s, want 2024-01", r.Period)
			}
		})
	}
}

func TestEngineIdempotentAndIsolated(t *testing.T) {
	st := memory.New()
	seedScenario(t, st)
	clock := &fixedClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	engine := newTestEngine(st, clock)
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx, "2024-02"); err != nil {
		t.Fatalf("Reconcile(2024-02) error = %v", err)
	}
	feb := resultsByID(t, st, "2024-02")

	if _, err := engine.Reconcile(ctx, "2024-01"); err != nil {
		t.Fatalf("Reconcile(2024-01) error = %v", err)
	}
	first := resultsByID(t, st, "2024-01")

	clock.Advance(time.Hour)
	if _, err := engine.Reconcile(ctx, "2024-01"); err != nil {
		t.Fatalf("second Reconcile(2024-01) error = %v", err)
	}
	second := resultsByID(t, st, "2024-01")

	if len(first) != len(second) {
		t.Fatalf("re-run changed row count: %d vs %d", len(first), len(second))
	}
	for id, a := range first {
		b := second[id]
		b.CreatedAt = a.CreatedAt
		if a.String() != b.String() || a.ID != b.ID || !a.NetSettlement.Equal(b.NetSettlement) ||
			!a.CustomerDifference.Equal(b.CustomerDifference) || a.MiscTypeString() != b.MiscTypeString() {
			t.Errorf("re-run changed %s: %+v vs %+v", id, a, b)
		}
	}

	febAfter := resultsByID(t, st, "2024-02")
	if len(febAfter) != len(feb) {
		t.Fatalf("other period row count changed: %d vs %d", len(feb), len(febAfter))
	}
	for id, r := range feb {
		if !febAfter[id].CreatedAt.Equal(r.CreatedAt) || febAfter[id].ID != r.ID {
			t.Errorf("other period row %s was rewritten", id)
		}
	}
}

func TestEngineInvalidPeriod(t *testing.T) {
	engine := NewEngine(memory.New(), WithLogger(logger.NewNop()))

	for _, period := range []string{"", "2024-13", "24-01", "2024/01"} {
		t.Run(period, func(t *testing.T) {
			_, err := engine.Reconcile(context.Background(), period)
			if !errors.IsCategory(err, errors.CategoryValidation) {
				t.Errorf("Reconcile(%q) error = %v, want validation error", period, err)
			}
		})
	}
}

func TestEngineStorageErrorsUnmodified(t *testing.T) {
	readErr := stderrors.New("connection reset by peer")
	writeErr := stderrors.New("deadlock found when trying to get lock")

	t.Run("read", func(t *testing.T) {
		st := &failingStore{Store: memory.New(), listPaymentErr: readErr}
		seedScenario(t, st)
		_, err := NewEngine(st, WithLogger(logger.NewNop())).Reconcile(context.Background(), "2024-01")
		if err != readErr {
			t.Errorf("Reconcile() error = %v, want %v", err, readErr)
		}
	})

	t.Run("write", func(t *testing.T) {
		st := &failingStore{Store: memory.New(), replaceErr: writeErr}
		seedScenario(t, st)
		_, err := NewEngine(st, WithLogger(logger.NewNop())).Reconcile(context.Background(), "2024-01")
		if err != writeErr {
			t.Errorf("Reconcile() error = %v, want %v", err, writeErr)
		}
		counts, _ := st.Counts(context.Background())
		if counts.ReconciliationResults != 0 {
			t.Errorf("results written despite failure: %d", counts.ReconciliationResults)
		}
	})
}

type blockingLocker struct{}

func (blockingLocker) Lock(ctx context.Context, period string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngineLockTimeout(t *testing.T) {
	engine := NewEngine(memory.New(), WithLocker(blockingLocker{}), WithLogger(logger.NewNop()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := engine.Reconcile(ctx, "2024-01")
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeLockFailed {
		t.Fatalf("Reconcile() error = %v, want lock failure", err)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("lock failure should wrap %v", context.DeadlineExceeded)
	}
}

func TestEngineConcurrentSamePeriod(t *testing.T) {
	st := memory.New()
	seedScenario(t, st)
	engine := NewEngine(st, WithLogger(logger.NewNop()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Reconcile(context.Background(), "2024-01"); err != nil {
				t.Errorf("Reconcile() error = %v", err)
			}
		}()
	}
	wg.Wait()

	counts, err := st.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts.ReconciliationResults != 5 {
		t.Errorf("results = %d, want 5", counts.ReconciliationResults)
	}
}
