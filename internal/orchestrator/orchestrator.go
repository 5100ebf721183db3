// Package orchestrator assembles the service from configuration:
// store → source → lease → sinks → scheduler.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"pair-apr-lab/internal/config"
	"pair-apr-lab/internal/feed"
	"pair-apr-lab/internal/ingestion"
	"pair-apr-lab/internal/lease"
	"pair-apr-lab/internal/observability"
	"pair-apr-lab/internal/publish"
	"pair-apr-lab/internal/storage"
	chstore "pair-apr-lab/internal/storage/clickhouse"
	"pair-apr-lab/internal/storage/memory"
	"pair-apr-lab/internal/storage/migrations"
	pgstore "pair-apr-lab/internal/storage/postgres"
	"pair-apr-lab/internal/storage/sqlite"
	"pair-apr-lab/internal/thegraph"
)

// Orchestrator holds the wired components and closes them in reverse order.
type Orchestrator struct {
	Store     storage.SnapshotStore
	Scheduler *ingestion.Scheduler
	Feed      *feed.Hub // nil unless Options.EnableFeed

	closers []func() error
	logger  logrus.FieldLogger
}

// Options for creating Orchestrator.
type Options struct {
	Config *config.Config

	// Source overrides the subgraph client (tests, offline runs).
	Source ingestion.MeasurementSource

	// EnableFeed adds the websocket hub as a sink. The caller must run it.
	EnableFeed bool

	Logger  logrus.FieldLogger     // Default: logrus.StandardLogger()
	Metrics *observability.Metrics // Default: observability.DefaultMetrics
}

// New opens every configured backend. On error, anything already opened is closed.
func New(ctx context.Context, opts Options) (o *Orchestrator, err error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("orchestrator: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.DefaultMetrics
	}

	o = &Orchestrator{logger: opts.Logger}
	defer func() {
		if err != nil {
			_ = o.Close()
		}
	}()

	store, closeStore, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	o.Store = store
	o.closers = append(o.closers, closeStore)

	source := opts.Source
	sourceName := "stub"
	if source == nil {
		source = thegraph.NewClient(cfg.Subgraph.Endpoint, thegraph.WithAPIKey(cfg.Subgraph.APIKey))
		sourceName = "thegraph"
	}

	var pairLease ingestion.Lease = lease.NewLocal()
	if cfg.Redis.Addr != "" {
		r, err := lease.DialRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		pairLease = r
		o.closers = append(o.closers, r.Close)
	}

	var sinks []ingestion.SnapshotSink
	if opts.EnableFeed {
		o.Feed = feed.NewHub(opts.Logger, opts.Metrics)
		sinks = append(sinks, o.Feed)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := publish.DialKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
		o.closers = append(o.closers, k.Close)
	}

	o.Scheduler = ingestion.NewScheduler(ingestion.SchedulerOptions{
		Source:            source,
		SourceName:        sourceName,
		Store:             store,
		Pairs:             cfg.Pairs,
		Lease:             pairLease,
		Sinks:             sinks,
		InitialFetchHours: cfg.InitialFetchHours,
		SnapshotInterval:  cfg.SnapshotInterval,
		Logger:            opts.Logger.WithField("component", "scheduler"),
		Metrics:           opts.Metrics,
	})

	opts.Logger.WithFields(logrus.Fields{
		"driver": cfg.Storage.Driver,
		"source": sourceName,
		"pairs":  len(cfg.Pairs),
		"redis":  cfg.Redis.Addr != "",
		"kafka":  len(cfg.Kafka.Brokers) > 0,
	}).Info("components ready")

	return o, nil
}

// Close releases every opened backend, newest first.
func (o *Orchestrator) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured snapshot store and applies its migrations.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.SnapshotStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return memory.NewSnapshotStore(), func() error { return nil }, nil

	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		return pgstore.NewSnapshotStore(pool), func() error { pool.Close(); return nil }, nil

	case config.DriverClickHouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		return chstore.NewSnapshotStore(conn), conn.Close, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewSnapshotStore(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
