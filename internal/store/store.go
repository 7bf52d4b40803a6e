// Package store defines the dataset store shared by ingestion, the
// reconciliation engine and the read endpoints, plus the per-period locks
// that serialize result replacement.
//
// Raw tables are keyed by order_line_id. Upserts overwrite the whole row for
// an existing key and keep no history of the previous value; within a single
// batch the last row for a key wins.
package store

import (
	"context"

	"settlement-reconciler/internal/models"
)

// ResultFilter narrows a read of the reconciliation_results table.
type ResultFilter struct {
	// Period restricts to one period when non-empty.
	Period string
	// Status restricts to one item status when non-empty.
	Status models.ItemStatus
	// Offset and Limit page the result; Limit zero means no limit.
	Offset int
	Limit  int
}

// Store is the persistence boundary. Implementations must be safe for
// concurrent use.
type Store interface {
	UpsertOrders(ctx context.Context, rows []models.OrderLine) (int, error)
	UpsertCancellations(ctx context.Context, rows []models.Cancellation) (int, error)
	UpsertReturns(ctx context.Context, rows []models.Return) (int, error)
	UpsertReturnCharges(ctx context.Context, rows []models.ReturnCharge) (int, error)
	UpsertPayments(ctx context.Context, rows []models.Payment) (int, error)

	// ListOrders returns the order lines that belong to period: those stamped
	// with it and those uploaded without one. An empty period returns all.
	ListOrders(ctx context.Context, period string) ([]models.OrderLine, error)
	ListCancellations(ctx context.Context) ([]models.Cancellation, error)
	ListReturns(ctx context.Context) ([]models.Return, error)
	ListReturnCharges(ctx context.Context) ([]models.ReturnCharge, error)
	ListPayments(ctx context.Context) ([]models.Payment, error)

	// ReplaceResults deletes every result of period and inserts rows. Readers
	// never observe a mix of old and new rows for the period. Other periods
	// are untouched.
	ReplaceResults(ctx context.Context, period string, rows []models.ReconciliationResult) error
	// ListResults returns the page selected by filter, newest first, and the
	// total number of rows matching the filter before paging.
	ListResults(ctx context.Context, filter ResultFilter) ([]models.ReconciliationResult, int64, error)
	// Periods lists the distinct non-empty result periods, newest first.
	Periods(ctx context.Context) ([]string, error)

	Counts(ctx context.Context) (models.TableCounts, error)
	// ClearAll empties every table including results.
	ClearAll(ctx context.Context) error
	// ClearStaging empties the five raw tables and keeps results.
	ClearStaging(ctx context.Context) error

	Close() error
}

// Dedupe keeps the last row for each key, preserving first-seen order.
func Dedupe[T interface{ Key() string }](rows []T) []T {
	if len(rows) < 2 {
		return rows
	}
	index := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if i, ok := index[row.Key()]; ok {
			out[i] = row
			continue
		}
		index[row.Key()] = len(out)
		out = append(out, row)
	}
	return out
}
