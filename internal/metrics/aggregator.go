package metrics

import (
	"context"
	"fmt"
	"time"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/storage"
)

// SnapshotReader is the read side of storage.SnapshotStore.
type SnapshotReader interface {
	Query(ctx context.Context, q storage.SnapshotQuery) ([]*domain.Snapshot, error)
}

// Aggregator loads snapshots for a pair and range and smooths them into an APR series.
type Aggregator struct {
	store SnapshotReader
}

// NewAggregator creates an aggregator reading from store.
func NewAggregator(store SnapshotReader) *Aggregator {
	return &Aggregator{store: store}
}

// Series returns the APR series for pairID over [from, to] (inclusive).
// The window is validated before the store is queried.
func (a *Aggregator) Series(ctx context.Context, pairID string, from, to time.Time, w Window) ([]domain.AprPoint, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, fmt.Errorf("from after to: %w", storage.ErrInvalidInput)
	}

	snapshots, err := a.store.Query(ctx, storage.SnapshotQuery{
		PairID: pairID,
		From:   from,
		To:     to,
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	return MovingAverageAPR(snapshots, w)
}
