// Package main runs a single reconcile pass over the configured pairs and exits.
// Intended for cron-style deployments; exits non-zero if any pair failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pair-apr-lab/internal/config"
	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/ingestion"
	"pair-apr-lab/internal/ingestion/stub"
	"pair-apr-lab/internal/logging"
	"pair-apr-lab/internal/observability"
	"pair-apr-lab/internal/orchestrator"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file (optional)")
	pairs := flag.String("pairs", "", "Comma-separated pair addresses (overrides config)")
	offline := flag.Bool("offline", false, "Use generated measurements instead of querying the subgraph")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall deadline for the run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *pairs != "" {
		cfg.Pairs = strings.Split(*pairs, ",")
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	failed, err := ingestOnce(ctx, cfg, *offline, logger)
	if err != nil {
		logger.WithError(err).Error("ingest failed")
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(2)
	}
}

func ingestOnce(ctx context.Context, cfg *config.Config, offline bool, logger *logrus.Logger) (int, error) {
	if cfg.Tracing.Endpoint != "" {
		shutdown, err := observability.InitTracer(ctx, cfg.Tracing.Endpoint)
		if err != nil {
			return 0, fmt.Errorf("init tracer: %w", err)
		}
		defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
	}

	var source ingestion.MeasurementSource
	if offline {
		now := time.Now().UTC().Truncate(time.Hour)
		var measurements []*domain.Measurement
		for _, pair := range cfg.Pairs {
			measurements = append(measurements, stub.Hourly(pair, now.Add(-47*time.Hour), 48)...)
		}
		source = stub.NewStubMeasurementSource(measurements)
	}

	o, err := orchestrator.New(ctx, orchestrator.Options{
		Config: cfg,
		Source: source,
		Logger: logger,
	})
	if err != nil {
		return 0, err
	}
	defer o.Close()

	start := time.Now()
	results := o.Scheduler.RunOnce(ctx)
	ok, failed := ingestion.Summarize(results)

	for _, r := range results {
		if r.Err != nil {
			logger.WithFields(logrus.Fields{
				"pair":   r.PairID,
				"action": r.Action,
			}).WithError(r.Err).Error("pair failed")
		}
	}

	logger.WithFields(logrus.Fields{
		"ok":       ok,
		"failed":   failed,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("ingest complete")

	return failed, nil
}
