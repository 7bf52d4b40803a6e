package reconciler

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/logger"
)

const (
	// DefaultMaxRetries is the number of retries after the first failed read.
	DefaultMaxRetries = 3
	// DefaultRetryBase is multiplied by the attempt number between retries.
	DefaultRetryBase = time.Second
)

// Aggregator reduces stored results into a Summary. Reads are retried with
// linear backoff, and summaries may be cached for a short TTL.
type Aggregator struct {
	store      store.Store
	logger     logger.Logger
	maxRetries int
	retryBase  time.Duration
	cache      *cache.Cache
	sleep      func(ctx context.Context, d time.Duration) error
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRetry sets the retry count and the base delay. Retry n waits n*base.
func WithRetry(maxRetries int, base time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if maxRetries >= 0 {
			a.maxRetries = maxRetries
		}
		if base >= 0 {
			a.retryBase = base
		}
	}
}

// WithCacheTTL caches summaries for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.cache = cache.New(ttl, 2*ttl)
		} else {
			a.cache = nil
		}
	}
}

// WithAggregatorLogger sets the aggregator's logger.
func WithAggregatorLogger(log logger.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if log != nil {
			a.logger = log.WithComponent("summary_aggregator")
		}
	}
}

// NewAggregator creates an Aggregator with default retry settings and no
// cache.
func NewAggregator(st store.Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:      st,
		logger:     logger.GetGlobalLogger().WithComponent("summary_aggregator"),
		maxRetries: DefaultMaxRetries,
		retryBase:  DefaultRetryBase,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cacheKey(period string) string {
	if period == "" {
		return "summary:*"
	}
	return "summary:" + period
}

// Invalidate drops every cached summary. Call it after anything that changes
// the results table.
func (a *Aggregator) Invalidate() {
	if a.cache != nil {
		a.cache.Flush()
	}
}

// Summarize totals the results of period, or of every period when period is
// empty. When every attempt fails the last store error is returned as is.
func (a *Aggregator) Summarize(ctx context.Context, period string) (*models.Summary, error) {
	if a.cache != nil {
		if cached, ok := a.cache.Get(cacheKey(period)); ok {
			summary := cached.(models.Summary)
			return &summary, nil
		}
	}

	rows, err := a.readWithRetry(ctx, period)
	if err != nil {
		return nil, err
	}

	summary := Summarize(rows)
	summary.Period = period
	if a.cache != nil {
		a.cache.SetDefault(cacheKey(period), summary)
	}
	return &summary, nil
}

func (a *Aggregator) readWithRetry(ctx context.Context, period string) ([]models.ReconciliationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * a.retryBase
			a.logger.WithFields(logger.Fields{
				"period":  period,
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(lastErr).Warn("Retrying summary read")
			if err := a.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		rows, _, err := a.store.ListResults(ctx, store.ResultFilter{Period: period})
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	a.logger.WithContext(ctx).WithField("period", period).WithError(lastErr).Error("Summary read failed")
	return nil, lastErr
}

// Summarize reduces rows into counts and totals. Settled is the sum of net
// settlements.
func Summarize(rows []models.ReconciliationResult) models.Summary {
	s := models.Summary{
		TotalOrders:       len(rows),
		TotalCustomerPaid: decimal.Zero,
		TotalSettled:      decimal.Zero,
		TotalDifference:   decimal.Zero,
	}
	for _, r := range rows {
		switch r.ItemStatus {
		case models.ItemStatusDelivered:
			s.Delivered++
		case models.ItemStatusCancelled:
			s.Cancelled++
		case models.ItemStatusReturned:
			s.Returned++
		case models.ItemStatusRTO:
			s.RTO++
		case models.ItemStatusInTransit:
			s.InTransit++
		case models.ItemStatusMiscellaneous:
			s.Miscellaneous++
		}
		switch r.ReconciliationStatus {
		case models.ReconciliationMatched:
			s.Matched++
		case models.ReconciliationUnderSettled:
			s.UnderSettled++
		case models.ReconciliationOverSettled:
			s.OverSettled++
		case models.ReconciliationPending:
			s.Pending++
		}
		s.TotalCustomerPaid = s.TotalCustomerPaid.Add(r.CustomerPaidAmount)
		s.TotalSettled = s.TotalSettled.Add(r.NetSettlement)
		s.TotalDifference = s.TotalDifference.Add(r.Difference)
	}
	return s
}
