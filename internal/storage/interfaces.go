package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pair-apr-lab/internal/domain"
)

// SnapshotStore provides append-only storage for pair snapshots.
// Uniqueness: (pair, timestamp).
type SnapshotStore interface {
	// FindLatest returns the snapshot with the greatest timestamp for the pair.
	// Returns ErrNotFound if the pair has no snapshots.
	FindLatest(ctx context.Context, pairID string) (*domain.Snapshot, error)

	// Insert adds a new snapshot. Returns ErrDuplicateKey if (pair, timestamp) exists.
	Insert(ctx context.Context, snapshot *domain.Snapshot) error

	// InsertMany adds snapshots, silently skipping any whose (pair, timestamp)
	// already exists or repeats within the batch.
	// Returns the number of rows actually inserted.
	InsertMany(ctx context.Context, snapshots []*domain.Snapshot) (int, error)

	// Query returns snapshots matching q, ordered by timestamp (ASC unless q.Desc).
	Query(ctx context.Context, q SnapshotQuery) ([]*domain.Snapshot, error)
}

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SnapshotQuery filters and paginates snapshot reads.
// Zero From/To mean unbounded; bounds are inclusive. Limit 0 means no limit.
type SnapshotQuery struct {
	PairID string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
	Desc   bool
}

// Validate checks query bounds. Returns ErrInvalidInput on failure.
func (q SnapshotQuery) Validate() error {
	if q.Limit < 0 || q.Offset < 0 {
		return ErrInvalidInput
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return ErrInvalidInput
	}
	return nil
}

// Matches reports whether s satisfies the pair and time filters of q.
func (q SnapshotQuery) Matches(s *domain.Snapshot) bool {
	if q.PairID != "" && s.PairID != q.PairID {
		return false
	}
	if !q.From.IsZero() && s.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && s.Timestamp.After(q.To) {
		return false
	}
	return true
}

// ValidateSnapshot checks that a snapshot can be stored.
func ValidateSnapshot(s *domain.Snapshot) error {
	if s == nil || s.PairID == "" || s.Timestamp.IsZero() {
		return ErrInvalidInput
	}
	if s.Liquidity.IsNegative() || s.Volume.IsNegative() || s.Fees.IsNegative() {
		return ErrInvalidInput
	}
	return nil
}

// AssignID sets a fresh uuid on snapshots that arrive without one.
func AssignID(s *domain.Snapshot) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
}
