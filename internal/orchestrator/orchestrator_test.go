package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-apr-lab/internal/config"
	"pair-apr-lab/internal/ingestion"
	"pair-apr-lab/internal/ingestion/stub"
	"pair-apr-lab/internal/logging"
	"pair-apr-lab/internal/observability"
	"pair-apr-lab/internal/storage"
)

func newOrchestrator(t *testing.T, cfg *config.Config, source ingestion.MeasurementSource) *Orchestrator {
	t.Helper()
	require.NoError(t, cfg.Validate())
	o, err := New(context.Background(), Options{
		Config:  cfg,
		Source:  source,
		Logger:  logging.Discard(),
		Metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage.Driver = driver
			cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "snapshots.db")

			start := time.Now().UTC().Truncate(time.Hour).Add(-47 * time.Hour)
			var measurements = stub.Hourly(cfg.Pairs[0], start, 48)
			measurements = append(measurements, stub.Hourly(cfg.Pairs[1], start, 48)...)

			o := newOrchestrator(t, cfg, stub.NewStubMeasurementSource(measurements))
			assert.Nil(t, o.Feed)

			results := o.Scheduler.RunOnce(context.Background())
			ok, failed := ingestion.Summarize(results)
			assert.Equal(t, 2, ok)
			assert.Zero(t, failed)

			for _, pair := range cfg.Pairs {
				got, err := o.Store.Query(context.Background(), storage.SnapshotQuery{PairID: pair})
				require.NoError(t, err)
				assert.Len(t, got, 48)
			}

			// Second pass inside the interval is a no-op
			for _, r := range o.Scheduler.RunOnce(context.Background()) {
				assert.Equal(t, ingestion.ActionSkip, r.Action)
			}
		})
	}
}

func TestOrchestrator_FeedSink(t *testing.T) {
	cfg := config.Default()
	o, err := New(context.Background(), Options{
		Config:     cfg,
		Source:     stub.NewStubMeasurementSource(nil),
		EnableFeed: true,
		Logger:     logging.Discard(),
		Metrics:    observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	defer o.Close()

	assert.NotNil(t, o.Feed)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
