// Package main runs the long-lived service:
// - Scheduler loop: reconcile every configured pair on SCHEDULE_INTERVAL
// - HTTP API: APR series, snapshots listing, manual ingest, /metrics, /health
// - Websocket feed of newly stored snapshots
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"pair-apr-lab/internal/api"
	"pair-apr-lab/internal/config"
	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/ingestion"
	"pair-apr-lab/internal/ingestion/stub"
	"pair-apr-lab/internal/logging"
	"pair-apr-lab/internal/observability"
	"pair-apr-lab/internal/orchestrator"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file (optional)")
	offline := flag.Bool("offline", false, "Serve generated measurements instead of querying the subgraph")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if err := serve(cfg, *offline, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func serve(cfg *config.Config, offline bool, logger *logrus.Logger) error {
	ctx := context.Background()

	if cfg.Tracing.Endpoint != "" {
		shutdown, err := observability.InitTracer(ctx, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.WithError(err).Warn("tracer shutdown")
			}
		}()
	}

	var source ingestion.MeasurementSource
	if offline {
		source = offlineSource(cfg.Pairs, time.Now())
		logger.Warn("offline mode: serving generated measurements")
	}

	o, err := orchestrator.New(ctx, orchestrator.Options{
		Config:     cfg,
		Source:     source,
		EnableFeed: true,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := o.Close(); err != nil {
			logger.WithError(err).Warn("close components")
		}
	}()

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.New(api.Options{
			Store:    o.Store,
			Ingester: o.Scheduler,
			Feed:     o.Feed.ServeWS,
			Logger:   logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group

	// Signals
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	// Websocket hub
	{
		hctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return o.Feed.Run(hctx)
		}, func(error) {
			cancel()
		})
	}

	// Scheduler loop
	{
		sctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			logger.WithFields(logrus.Fields{
				"pairs":    len(cfg.Pairs),
				"interval": cfg.ScheduleInterval,
			}).Info("scheduler started")
			return o.Scheduler.Run(sctx, cfg.ScheduleInterval)
		}, func(error) {
			cancel()
		})
	}

	// HTTP
	g.Add(func() error {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.WithError(err).Warn("http shutdown")
		}
	})

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) || errors.Is(err, context.Canceled) {
		logger.WithField("reason", err.Error()).Info("shutting down")
		return nil
	}
	return err
}

// offlineSource generates one week of hourly history per pair ending at now.
func offlineSource(pairs []string, now time.Time) *stub.StubMeasurementSource {
	const hours = 7 * 24
	start := now.UTC().Truncate(time.Hour).Add(-(hours - 1) * time.Hour)
	var measurements []*domain.Measurement
	for _, pair := range pairs {
		measurements = append(measurements, stub.Hourly(pair, start, hours)...)
	}
	return stub.NewStubMeasurementSource(measurements)
}
