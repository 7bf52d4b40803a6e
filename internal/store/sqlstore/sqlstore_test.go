package sqlstore

import (
	"context"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/logger"
)

// openTestStore connects to the MySQL named by RECONCILER_TEST_MYSQL_DSN.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RECONCILER_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("RECONCILER_TEST_MYSQL_DSN not set")
	}
	cfg := DefaultConfig()
	cfg.DSN = dsn
	cfg.BatchSize = 2
	cfg.Tracing = false
	s, err := Open(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if !cfg.AutoMigrate {
		t.Error("AutoMigrate should default to true")
	}
}

func TestMoneyColumnsKeepFourDecimals(t *testing.T) {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	for _, model := range tables() {
		s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		if err != nil {
			t.Fatalf("schema.Parse(%T) error = %v", model, err)
		}
		for _, field := range s.Fields {
			if field.FieldType != decimalType {
				continue
			}
			if got := field.TagSettings["TYPE"]; got != "decimal(18,4)" {
				t.Errorf("%s.%s type = %q, want decimal(18,4)", s.Table, field.DBName, got)
			}
		}
	}
}

func TestSubCentAmountsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	amount := decimal.RequireFromString("10.5555")
	if _, err := s.UpsertPayments(ctx, []models.Payment{{OrderLineID: "1", ActualSettlement: amount}}); err != nil {
		t.Fatalf("UpsertPayments() error = %v", err)
	}
	payments, err := s.ListPayments(ctx)
	if err != nil || len(payments) != 1 {
		t.Fatalf("ListPayments() = %v, %v", payments, err)
	}
	if !payments[0].ActualSettlement.Equal(amount) {
		t.Errorf("ActualSettlement = %s, want %s", payments[0].ActualSettlement, amount)
	}
}

func TestUpsertAndReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertPayments(ctx, []models.Payment{
		{OrderLineID: "1", ActualSettlement: decimal.NewFromInt(10)},
		{OrderLineID: "1", ActualSettlement: decimal.NewFromInt(20)},
	})
	if err != nil || n != 1 {
		t.Fatalf("UpsertPayments() = %d, %v; want 1, nil", n, err)
	}
	payments, err := s.ListPayments(ctx)
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	if len(payments) != 1 || !payments[0].ActualSettlement.Equal(decimal.NewFromInt(20)) {
		t.Errorf("ListPayments() = %+v", payments)
	}

	now := time.Now().UTC().Truncate(time.Second)
	rows := []models.ReconciliationResult{
		{ID: "00000000-0000-0000-0000-000000000001", OrderLineID: "1", Period: "2024-01", ItemStatus: models.ItemStatusDelivered, CreatedAt: now},
		{ID: "00000000-0000-0000-0000-000000000002", OrderLineID: "2", Period: "2024-01", ItemStatus: models.ItemStatusRTO, CreatedAt: now},
		{ID: "00000000-0000-0000-0000-000000000003", OrderLineID: "3", Period: "2024-01", ItemStatus: models.ItemStatusCancelled, CreatedAt: now},
	}
	if err := s.ReplaceResults(ctx, "2024-01", rows); err != nil {
		t.Fatalf("ReplaceResults() error = %v", err)
	}
	if err := s.ReplaceResults(ctx, "2024-01", rows[:1]); err != nil {
		t.Fatalf("ReplaceResults() error = %v", err)
	}

	got, total, err := s.ListResults(ctx, store.ResultFilter{Period: "2024-01"})
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if total != 1 || len(got) != 1 {
		t.Errorf("ListResults() = %d rows of %d, want 1", len(got), total)
	}

	periods, err := s.Periods(ctx)
	if err != nil {
		t.Fatalf("Periods() error = %v", err)
	}
	if len(periods) != 1 || periods[0] != "2024-01" {
		t.Errorf("Periods() = %v", periods)
	}
}
