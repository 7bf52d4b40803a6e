package cmd

import (
	"context"

	"github.com/redis/go-redis/v9"

	"settlement-reconciler/cmd/reconciler/config"
	"settlement-reconciler/internal/ingest"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/store"
	"settlement-reconciler/internal/store/memory"
	"settlement-reconciler/internal/store/sqlstore"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// app is the set of services one command works with. They all share one
// store.
type app struct {
	log        logger.Logger
	store      store.Store
	redis      *redis.Client
	ingest     *ingest.Service
	engine     *reconciler.Engine
	aggregator *reconciler.Aggregator
}

// lifetime says how long a command needs its data to live.
type lifetime int

const (
	// acrossCommands data is read by a later invocation, as with upload
	// followed by reconcile.
	acrossCommands lifetime = iota
	// thisProcess data is only used by the running process, as with serve
	// or reconcile --dir.
	thisProcess
)

// newApp builds the services for cfg. Tests replace it to share a store
// across commands.
var newApp = buildApp

func buildApp(ctx context.Context, cfg *config.Config, log logger.Logger, life lifetime) (*app, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		sql, err := sqlstore.Open(cfg.SQLConfig(), log)
		if err != nil {
			return nil, errors.StorageError(errors.CodeReadFailed, "connect", err)
		}
		st = sql
	default:
		if life == acrossCommands {
			return nil, errMemoryStore()
		}
		log.Debug("Using in-memory store; data lives only as long as this process")
		st = memory.New()
	}

	var (
		rdb    *redis.Client
		locker store.PeriodLocker
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			st.Close()
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "redis.addr", cfg.Redis.Addr, err)
		}
		locker = store.NewRedisLocker(rdb, cfg.Redis.LockTTL)
		log.WithField("addr", cfg.Redis.Addr).Info("Using Redis period locks")
	}

	a := assemble(cfg, log, st, locker)
	a.redis = rdb
	return a, nil
}

// assemble wires the services over st. A nil locker keeps the engine's
// in-process lock.
func assemble(cfg *config.Config, log logger.Logger, st store.Store, locker store.PeriodLocker) *app {
	engineOpts := []reconciler.Option{reconciler.WithLogger(log)}
	if locker != nil {
		engineOpts = append(engineOpts, reconciler.WithLocker(locker))
	}
	return &app{
		log:   log,
		store: st,
		ingest: ingest.NewService(st,
			ingest.WithLogger(log),
			ingest.WithMaxBytes(cfg.Upload.MaxBytes),
		),
		engine: reconciler.NewEngine(st, engineOpts...),
		aggregator: reconciler.NewAggregator(st,
			append(cfg.AggregatorOptions(), reconciler.WithAggregatorLogger(log))...,
		),
	}
}

func (a *app) Close() error {
	if a.redis != nil {
		a.redis.Close()
	}
	return a.store.Close()
}

// errMemoryStore is returned when a command would write to or read from an
// in-memory store that no other invocation can see.
func errMemoryStore() *errors.ReconcilerError {
	return errors.New(errors.CategoryConfiguration, errors.CodeInvalidConfig,
		"the memory store does not keep data between commands").
		WithSuggestion("set store.driver=mysql and store.dsn (RECONCILER_STORE_DRIVER, RECONCILER_STORE_DSN), "+
			"or upload and reconcile in one step with 'reconcile --dir'").
		WithContext("setting", "store.driver").
		WithContext("value", config.DriverMemory)
}

// withApp runs fn with services whose data outlives the command.
func withApp(ctx context.Context, fn func(*app) error) error {
	return runApp(ctx, acrossCommands, fn)
}

// withProcessApp runs fn with services that may keep data in memory.
func withProcessApp(ctx context.Context, fn func(*app) error) error {
	return runApp(ctx, thisProcess, fn)
}

func runApp(ctx context.Context, life lifetime, fn func(*app) error) error {
	a, err := newApp(ctx, cfg, logger.GetGlobalLogger(), life)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
