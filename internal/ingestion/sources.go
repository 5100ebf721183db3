package ingestion

import (
	"context"

	"pair-apr-lab/internal/domain"
)

// MeasurementSource provides hourly pair measurements from an external source.
type MeasurementSource interface {
	// Fetch returns up to limit of the most recent hourly measurements for a pair,
	// newest first. The scheduler re-sorts, so order is not relied on.
	// Fails with ErrNotFound or ErrSourceUnavailable (wrapped).
	Fetch(ctx context.Context, pairID string, limit int) ([]*domain.Measurement, error)
}

// SnapshotSink receives snapshots after they are persisted.
// Sink failures are logged and never fail a reconcile.
type SnapshotSink interface {
	Name() string
	Publish(ctx context.Context, snapshots []*domain.Snapshot) error
}

// Lease guards a pair against concurrent reconciles across processes.
type Lease interface {
	// TryAcquire takes the lease for key. When acquired is false another holder owns it.
	TryAcquire(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}
