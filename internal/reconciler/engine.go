// Package reconciler turns the five raw datasets into per-line
// reconciliation results and reduces results into summaries.
//
// The Engine joins every order line of a period against the cancellation,
// return, return-charge and payment datasets, classifies it, computes the
// settlement columns and replaces the period's results in one step. The
// Aggregator reads those results back and totals them.
//
// Example usage:
//
//	engine := reconciler.NewEngine(st, reconciler.WithLocker(store.NewKeyedMutex()))
//	result, err := engine.Reconcile(ctx, "2024-01")
//
//	agg := reconciler.NewAggregator(st)
//	summary, err := agg.Summarize(ctx, "2024-01")
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// resultNamespace seeds the name-based ids of result rows, so re-running a
// period produces the same ids.
var resultNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("settlement-reconciler/reconciliation_results"))

// ResultID returns the stable id of the result for orderLineID in period.
func ResultID(period, orderLineID string) string {
	return uuid.NewSHA1(resultNamespace, []byte(period+"/"+orderLineID)).String()
}

// Result reports one reconciliation run.
type Result struct {
	Period       string              `json:"period"`
	Count        int                 `json:"count"`
	StatusCounts models.StatusCounts `json:"statusCounts"`
	Duration     time.Duration       `json:"-"`
}

// Engine runs reconciliation for a period against a store.Store.
type Engine struct {
	store  store.Store
	locker store.PeriodLocker
	logger logger.Logger
	clock  func() time.Time
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the lock that serializes runs of the same period.
func WithLocker(locker store.PeriodLocker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.logger = log.WithComponent("reconciliation_engine")
		}
	}
}

// WithClock sets the clock used for created_at.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an Engine. Without WithLocker it uses an in-process
// keyed mutex.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		locker: store.NewKeyedMutex(),
		logger: logger.GetGlobalLogger().WithComponent("reconciliation_engine"),
		clock:  time.Now,
		tracer: otel.Tracer("settlement-reconciler/reconciler"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// datasets is the in-memory join side of one run.
type datasets struct {
	orders        []models.OrderLine
	cancelled     map[string]struct{}
	returned      map[string]struct{}
	payments      map[string]models.Payment
	returnCharges map[string]models.ReturnCharge
}

func (d *datasets) inputs(id string) LineInputs {
	in := LineInputs{}
	_, in.Cancelled = d.cancelled[id]
	_, in.Returned = d.returned[id]
	if p, ok := d.payments[id]; ok {
		in.Payment = &p
	}
	if rc, ok := d.returnCharges[id]; ok {
		in.ReturnCharge = &rc
	}
	return in
}

// Reconcile recomputes every result of period. Order lines stamped with the
// period and those uploaded without one are included. Results of other
// periods are never touched. Storage failures are returned as the store
// reported them.
func (e *Engine) Reconcile(ctx context.Context, period string) (*Result, error) {
	if err := models.ValidatePeriod(period); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidPeriod, "period", period, err)
	}

	ctx, span := e.tracer.Start(ctx, "reconciler.Reconcile",
		trace.WithAttributes(attribute.String("reconcile.period", period)))
	defer span.End()

	log := e.logger.WithContext(ctx).WithField("period", period)
	start := e.clock()

	unlock, err := e.locker.Lock(ctx, period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrap(err, errors.CategoryStorage, errors.CodeLockFailed, err.Error()).
			WithContext("period", period)
	}
	defer unlock()

	data, err := e.load(ctx, period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Failed to load datasets")
		return nil, err
	}

	createdAt := e.clock().UTC()
	rows := make([]models.ReconciliationResult, 0, len(data.orders))
	counts := make(models.StatusCounts, len(models.ItemStatuses))
	for _, status := range models.ItemStatuses {
		counts[status] = 0
	}
	for _, order := range data.orders {
		row := BuildResult(order, data.inputs(order.OrderLineID), period, createdAt)
		counts[row.ItemStatus]++
		rows = append(rows, row)
	}

	if err := e.store.ReplaceResults(ctx, period, rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Failed to replace results")
		return nil, err
	}

	result := &Result{
		Period:       period,
		Count:        len(rows),
		StatusCounts: counts,
		Duration:     e.clock().Sub(start),
	}
	span.SetAttributes(attribute.Int("reconcile.count", result.Count))
	log.WithFields(logger.Fields{
		"count":    result.Count,
		"duration": result.Duration.String(),
	}).Info("Reconciliation completed")
	return result, nil
}

// load reads the five datasets concurrently and indexes them by
// order_line_id.
func (e *Engine) load(ctx context.Context, period string) (*datasets, error) {
	var (
		orders        []models.OrderLine
		cancellations []models.Cancellation
		returns       []models.Return
		returnCharges []models.ReturnCharge
		payments      []models.Payment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		orders, err = e.store.ListOrders(gctx, period)
		return err
	})
	g.Go(func() (err error) {
		cancellations, err = e.store.ListCancellations(gctx)
		return err
	})
	g.Go(func() (err error) {
		returns, err = e.store.ListReturns(gctx)
		return err
	})
	g.Go(func() (err error) {
		returnCharges, err = e.store.ListReturnCharges(gctx)
		return err
	})
	g.Go(func() (err error) {
		payments, err = e.store.ListPayments(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &datasets{
		orders:        orders,
		cancelled:     make(map[string]struct{}, len(cancellations)),
		returned:      make(map[string]struct{}, len(returns)),
		payments:      make(map[string]models.Payment, len(payments)),
		returnCharges: make(map[string]models.ReturnCharge, len(returnCharges)),
	}
	for _, c := range cancellations {
		d.cancelled[c.OrderLineID] = struct{}{}
	}
	for _, r := range returns {
		d.returned[r.OrderLineID] = struct{}{}
	}
	for _, p := range payments {
		d.payments[p.OrderLineID] = p
	}
	for _, rc := range returnCharges {
		d.returnCharges[rc.OrderLineID] = rc
	}
	return d, nil
}

// BuildResult derives the result row for one order line.
func BuildResult(order models.OrderLine, in LineInputs, period string, createdAt time.Time) models.ReconciliationResult {
	class := Classify(order, in)
	money := Settle(class.Status, in)

	return models.ReconciliationResult{
		ID:                   ResultID(period, order.OrderLineID),
		OrderLineID:          order.OrderLineID,
		OrderReleaseID:       order.OrderReleaseID,
		SKUCode:              order.SKUCode,
		StyleName:            order.StyleName,
		ItemStatus:           class.Status,
		MiscType:             class.MiscType,
		FinalAmount:          order.FinalAmount,
		CustomerPaidAmount:   money.CustomerPaid,
		ExpectedSettlement:   money.Expected,
		ActualSettlement:     money.Actual,
		ReturnCharge:         money.ReturnCharge,
		NetSettlement:        money.Net,
		Difference:           money.Difference,
		CustomerDifference:   money.CustomerDifference,
		ReconciliationStatus: Verdict(class.Status, in, money.Difference),
		Period:               period,
		CreatedAt:            createdAt,
	}
}
