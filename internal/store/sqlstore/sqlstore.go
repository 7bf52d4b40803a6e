// Package sqlstore implements store.Store on MySQL through gorm.
package sqlstore

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/pkg/logger"
)

// Config holds connection and write settings.
type Config struct {
	DSN             string
	BatchSize       int
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
	Tracing         bool
}

// DefaultConfig returns settings suited to a small deployment.
func DefaultConfig() Config {
	return Config{
		BatchSize:       500,
		AutoMigrate:     true,
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		SlowThreshold:   time.Second,
		Tracing:         true,
	}
}

// Store is a gorm-backed store.Store.
type Store struct {
	db        *gorm.DB
	batchSize int
	logger    logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to MySQL and optionally migrates the schema.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("sqlstore")

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.New(gormWriter{log}, gormlogger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	return New(db, cfg, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("sqlstore")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if cfg.Tracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			log.WithError(err).Warn("Failed to install otelgorm plugin")
		}
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(tables()...); err != nil {
			return nil, err
		}
	}

	return &Store{db: db, batchSize: cfg.BatchSize, logger: log}, nil
}

// tables lists the models the store migrates.
func tables() []interface{} {
	return []interface{}{
		&models.OrderLine{},
		&models.Cancellation{},
		&models.Return{},
		&models.ReturnCharge{},
		&models.Payment{},
		&models.ReconciliationResult{},
	}
}

// gormWriter sends gorm's own log lines through our logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

func upsert[T interface{ Key() string }](ctx context.Context, db *gorm.DB, batchSize int, rows []T) (int, error) {
	rows = store.Dedupe(rows)
	if len(rows) == 0 {
		return 0, nil
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, batchSize).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) UpsertOrders(ctx context.Context, rows []models.OrderLine) (int, error) {
	return upsert(ctx, s.db, s.batchSize, rows)
}

func (s *Store) UpsertCancellations(ctx context.Context, rows []models.Cancellation) (int, error) {
	return upsert(ctx, s.db, s.batchSize, rows)
}

func (s *Store) UpsertReturns(ctx context.Context, rows []models.Return) (int, error) {
	return upsert(ctx, s.db, s.batchSize, rows)
}

func (s *Store) UpsertReturnCharges(ctx context.Context, rows []models.ReturnCharge) (int, error) {
	return upsert(ctx, s.db, s.batchSize, rows)
}

func (s *Store) UpsertPayments(ctx context.Context, rows []models.Payment) (int, error) {
	return upsert(ctx, s.db, s.batchSize, rows)
}

func (s *Store) ListOrders(ctx context.Context, period string) ([]models.OrderLine, error) {
	var rows []models.OrderLine
	q := s.db.WithContext(ctx).Order("order_line_id")
	if period != "" {
		q = q.Where("period = ? OR period = '' OR period IS NULL", period)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (s *Store) ListCancellations(ctx context.Context) ([]models.Cancellation, error) {
	var rows []models.Cancellation
	err := s.db.WithContext(ctx).Order("order_line_id").Find(&rows).Error
	return rows, err
}

func (s *Store) ListReturns(ctx context.Context) ([]models.Return, error) {
	var rows []models.Return
	err := s.db.WithContext(ctx).Order("order_line_id").Find(&rows).Error
	return rows, err
}

func (s *Store) ListReturnCharges(ctx context.Context) ([]models.ReturnCharge, error) {
	var rows []models.ReturnCharge
	err := s.db.WithContext(ctx).Order("order_line_id").Find(&rows).Error
	return rows, err
}

func (s *Store) ListPayments(ctx context.Context) ([]models.Payment, error) {
	var rows []models.Payment
	err := s.db.WithContext(ctx).Order("order_line_id").Find(&rows).Error
	return rows, err
}

// ReplaceResults deletes and re-inserts the period inside one transaction,
// writing in chunks of the configured batch size.
func (s *Store) ReplaceResults(ctx context.Context, period string, rows []models.ReconciliationResult) error {
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "replace_results",
		Total:     int64(len(rows)),
		Logger:    s.logger.WithField("period", period),
	})

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("period = ?", period).Delete(&models.ReconciliationResult{}).Error; err != nil {
			return err
		}
		for start := 0; start < len(rows); start += s.batchSize {
			end := start + s.batchSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]
			if err := tx.Create(&chunk).Error; err != nil {
				return err
			}
			progress.AddChunk(len(chunk))
		}
		return nil
	})
	if err != nil {
		progress.CompleteWithError(err)
		return err
	}
	progress.Complete()
	return nil
}

func (s *Store) resultQuery(ctx context.Context, filter store.ResultFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.ReconciliationResult{})
	if filter.Period != "" {
		q = q.Where("period = ?", filter.Period)
	}
	if filter.Status != "" {
		q = q.Where("item_status = ?", filter.Status)
	}
	return q
}

func (s *Store) ListResults(ctx context.Context, filter store.ResultFilter) ([]models.ReconciliationResult, int64, error) {
	var total int64
	if err := s.resultQuery(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := s.resultQuery(ctx, filter).Order("created_at DESC, period DESC, order_line_id ASC")
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	rows := []models.ReconciliationResult{}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *Store) Periods(ctx context.Context) ([]string, error) {
	var periods []string
	err := s.db.WithContext(ctx).
		Model(&models.ReconciliationResult{}).
		Where("period IS NOT NULL AND period <> ''").
		Distinct("period").
		Order("period DESC").
		Pluck("period", &periods).Error
	return periods, err
}

func (s *Store) Counts(ctx context.Context) (models.TableCounts, error) {
	var counts models.TableCounts
	targets := []struct {
		model interface{}
		dest  *int64
	}{
		{&models.OrderLine{}, &counts.Orders},
		{&models.Cancellation{}, &counts.Cancellations},
		{&models.Return{}, &counts.Returns},
		{&models.ReturnCharge{}, &counts.ReturnCharges},
		{&models.Payment{}, &counts.Payments},
		{&models.ReconciliationResult{}, &counts.ReconciliationResults},
	}
	for _, t := range targets {
		if err := s.db.WithContext(ctx).Model(t.model).Count(t.dest).Error; err != nil {
			return models.TableCounts{}, err
		}
	}
	return counts, nil
}

// Raw tables in child-to-parent order, matching how they are cleared.
var stagingModels = []interface{}{
	&models.ReturnCharge{},
	&models.Payment{},
	&models.Return{},
	&models.Cancellation{},
	&models.OrderLine{},
}

func (s *Store) clear(ctx context.Context, targets []interface{}) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, model := range targets {
			if err := tx.Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ClearAll(ctx context.Context) error {
	return s.clear(ctx, append([]interface{}{&models.ReconciliationResult{}}, stagingModels...))
}

func (s *Store) ClearStaging(ctx context.Context) error {
	return s.clear(ctx, stagingModels)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
