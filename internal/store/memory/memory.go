// Package memory is an in-process Store used by tests, the CLI's default
// mode and single-node deployments that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/store"
)

// Store keeps every table in maps guarded by one RWMutex.
type Store struct {
	mu            sync.RWMutex
	orders        map[string]models.OrderLine
	cancellations map[string]models.Cancellation
	returns       map[string]models.Return
	returnCharges map[string]models.ReturnCharge
	payments      map[string]models.Payment
	results       map[string][]models.ReconciliationResult
	clock         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp created_at on raw rows.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{clock: time.Now}
	s.reset(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) reset(withResults bool) {
	s.orders = make(map[string]models.OrderLine)
	s.cancellations = make(map[string]models.Cancellation)
	s.returns = make(map[string]models.Return)
	s.returnCharges = make(map[string]models.ReturnCharge)
	s.payments = make(map[string]models.Payment)
	if withResults {
		s.results = make(map[string][]models.ReconciliationResult)
	}
}

func (s *Store) UpsertOrders(ctx context.Context, rows []models.OrderLine) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows = store.Dedupe(rows)
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		row.CreatedAt = now
		s.orders[row.OrderLineID] = row
	}
	return len(rows), nil
}

func (s *Store) UpsertCancellations(ctx context.Context, rows []models.Cancellation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows = store.Dedupe(rows)
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		row.CreatedAt = now
		s.cancellations[row.OrderLineID] = row
	}
	return len(rows), nil
}

func (s *Store) UpsertReturns(ctx context.Context, rows []models.Return) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows = store.Dedupe(rows)
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		row.CreatedAt = now
		s.returns[row.OrderLineID] = row
	}
	return len(rows), nil
}

func (s *Store) UpsertReturnCharges(ctx context.Context, rows []models.ReturnCharge) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows = store.Dedupe(rows)
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		row.CreatedAt = now
		s.returnCharges[row.OrderLineID] = row
	}
	return len(rows), nil
}

func (s *Store) UpsertPayments(ctx context.Context, rows []models.Payment) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows = store.Dedupe(rows)
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		row.CreatedAt = now
		s.payments[row.OrderLineID] = row
	}
	return len(rows), nil
}

func (s *Store) ListOrders(ctx context.Context, period string) ([]models.OrderLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OrderLine, 0, len(s.orders))
	for _, row := range s.orders {
		if period == "" || row.Period == "" || row.Period == period {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderLineID < out[j].OrderLineID })
	return out, nil
}

func (s *Store) ListCancellations(ctx context.Context) ([]models.Cancellation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.cancellations), nil
}

func (s *Store) ListReturns(ctx context.Context) ([]models.Return, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.returns), nil
}

func (s *Store) ListReturnCharges(ctx context.Context) ([]models.ReturnCharge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.returnCharges), nil
}

func (s *Store) ListPayments(ctx context.Context) ([]models.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.payments), nil
}

func sortedValues[T interface{ Key() string }](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ReplaceResults swaps the period's slice under the write lock.
func (s *Store) ReplaceResults(ctx context.Context, period string, rows []models.ReconciliationResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]models.ReconciliationResult, len(rows))
	copy(cp, rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cp) == 0 {
		delete(s.results, period)
		return nil
	}
	s.results[period] = cp
	return nil
}

func (s *Store) ListResults(ctx context.Context, filter store.ResultFilter) ([]models.ReconciliationResult, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	var matched []models.ReconciliationResult
	for period, rows := range s.results {
		if filter.Period != "" && period != filter.Period {
			continue
		}
		for _, row := range rows {
			if filter.Status != "" && row.ItemStatus != filter.Status {
				continue
			}
			matched = append(matched, row)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		if matched[i].Period != matched[j].Period {
			return matched[i].Period > matched[j].Period
		}
		return matched[i].OrderLineID < matched[j].OrderLineID
	})

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []models.ReconciliationResult{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	if matched == nil {
		matched = []models.ReconciliationResult{}
	}
	return matched, total, nil
}

func (s *Store) Periods(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	periods := make([]string, 0, len(s.results))
	for period, rows := range s.results {
		if period != "" && len(rows) > 0 {
			periods = append(periods, period)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))
	return periods, nil
}

func (s *Store) Counts(ctx context.Context) (models.TableCounts, error) {
	if err := ctx.Err(); err != nil {
		return models.TableCounts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results int64
	for _, rows := range s.results {
		results += int64(len(rows))
	}
	return models.TableCounts{
		Orders:                int64(len(s.orders)),
		Cancellations:         int64(len(s.cancellations)),
		Returns:               int64(len(s.returns)),
		ReturnCharges:         int64(len(s.returnCharges)),
		Payments:              int64(len(s.payments)),
		ReconciliationResults: results,
	}, nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(true)
	return nil
}

func (s *Store) ClearStaging(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(false)
	return nil
}

func (s *Store) Close() error { return nil }
