package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Snapshot // keyed by pair|unix nanos
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.Snapshot),
	}
}

// snapshotKey generates the uniqueness key for a snapshot.
func snapshotKey(s *domain.Snapshot) string {
	return fmt.Sprintf("%s|%d", s.PairID, s.Timestamp.UnixNano())
}

// Insert adds a new snapshot. Returns ErrDuplicateKey if (pair, timestamp) exists.
func (s *SnapshotStore) Insert(_ context.Context, snapshot *domain.Snapshot) error {
	if err := storage.ValidateSnapshot(snapshot); err != nil {
		return err
	}

	key := snapshotKey(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	storage.AssignID(snapshot)
	c := *snapshot
	c.Timestamp = c.Timestamp.UTC()
	s.data[key] = &c
	return nil
}

// InsertMany adds snapshots, skipping existing and intra-batch duplicates.
// Rejects the whole batch with ErrInvalidInput before writing if any snapshot is invalid.
func (s *SnapshotStore) InsertMany(_ context.Context, snapshots []*domain.Snapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	// First pass: validate
	for _, snapshot := range snapshots {
		if err := storage.ValidateSnapshot(snapshot); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Second pass: insert non-duplicates
	inserted := 0
	for _, snapshot := range snapshots {
		key := snapshotKey(snapshot)
		if _, exists := s.data[key]; exists {
			continue
		}
		storage.AssignID(snapshot)
		c := *snapshot
		c.Timestamp = c.Timestamp.UTC()
		s.data[key] = &c
		inserted++
	}

	return inserted, nil
}

// FindLatest returns the newest snapshot for a pair or ErrNotFound.
func (s *SnapshotStore) FindLatest(_ context.Context, pairID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Snapshot
	for _, snapshot := range s.data {
		if snapshot.PairID != pairID {
			continue
		}
		if latest == nil || snapshot.Timestamp.After(latest.Timestamp) {
			latest = snapshot
		}
	}

	if latest == nil {
		return nil, storage.ErrNotFound
	}

	c := *latest
	return &c, nil
}

// Query returns snapshots matching q, ordered by timestamp.
func (s *SnapshotStore) Query(_ context.Context, q storage.SnapshotQuery) ([]*domain.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Snapshot
	for _, snapshot := range s.data {
		if q.Matches(snapshot) {
			c := *snapshot
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			if q.Desc {
				return result[i].Timestamp.After(result[j].Timestamp)
			}
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].PairID < result[j].PairID
	})

	return paginate(result, q.Offset, q.Limit), nil
}

// Len returns the number of stored snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func paginate(items []*domain.Snapshot, offset, limit int) []*domain.Snapshot {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
