package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// ReplacingMergeTree does not reject duplicates at insert time, so uniqueness
// is checked before each write and reads use FINAL.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const selectSnapshots = `
	SELECT id, pair, timestamp_ms, liquidity, volume, fees
	FROM pair_snapshots FINAL
`

// Insert adds a new snapshot. Returns ErrDuplicateKey if (pair, timestamp) exists.
func (s *SnapshotStore) Insert(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := storage.ValidateSnapshot(snapshot); err != nil {
		return err
	}

	exists, err := s.exists(ctx, snapshot.PairID, snapshot.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	if err := s.send(ctx, []*domain.Snapshot{snapshot}); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// InsertMany writes snapshots whose keys are new, skipping existing and intra-batch duplicates.
func (s *SnapshotStore) InsertMany(ctx context.Context, snapshots []*domain.Snapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	type key struct {
		pair        string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(snapshots))
	fresh := make([]*domain.Snapshot, 0, len(snapshots))

	for _, snapshot := range snapshots {
		if err := storage.ValidateSnapshot(snapshot); err != nil {
			return 0, err
		}
		k := key{snapshot.PairID, snapshot.Timestamp.UnixMilli()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		exists, err := s.exists(ctx, k.pair, k.timestampMs)
		if err != nil {
			return 0, fmt.Errorf("check exists: %w", err)
		}
		if !exists {
			fresh = append(fresh, snapshot)
		}
	}

	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.send(ctx, fresh); err != nil {
		return 0, fmt.Errorf("insert snapshots: %w", err)
	}
	return len(fresh), nil
}

// FindLatest returns the newest snapshot for a pair or ErrNotFound.
func (s *SnapshotStore) FindLatest(ctx context.Context, pairID string) (*domain.Snapshot, error) {
	rows, err := s.conn.Query(ctx, selectSnapshots+`
		WHERE pair = ?
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`, pairID)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, storage.ErrNotFound
	}
	return snapshots[0], nil
}

// Query returns snapshots matching q, ordered by timestamp.
func (s *SnapshotStore) Query(ctx context.Context, q storage.SnapshotQuery) ([]*domain.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if q.PairID != "" {
		where = append(where, "pair = ?")
		args = append(args, q.PairID)
	}
	if !q.From.IsZero() {
		where = append(where, "timestamp_ms >= ?")
		args = append(args, uint64(q.From.UnixMilli()))
	}
	if !q.To.IsZero() {
		where = append(where, "timestamp_ms <= ?")
		args = append(args, uint64(q.To.UnixMilli()))
	}

	var sb strings.Builder
	sb.WriteString(selectSnapshots)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if q.Desc {
		sb.WriteString(" ORDER BY timestamp_ms DESC, pair ASC")
	} else {
		sb.WriteString(" ORDER BY timestamp_ms ASC, pair ASC")
	}
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
	if q.Offset > 0 {
		if q.Limit == 0 {
			// ClickHouse needs a LIMIT before OFFSET.
			sb.WriteString(" LIMIT 18446744073709551615")
		}
		sb.WriteString(fmt.Sprintf(" OFFSET %d", q.Offset))
	}

	rows, err := s.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Ping checks server connectivity.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *SnapshotStore) send(ctx context.Context, snapshots []*domain.Snapshot) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pair_snapshots (id, pair, timestamp_ms, liquidity, volume, fees)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snapshot := range snapshots {
		storage.AssignID(snapshot)
		err = batch.Append(
			snapshot.ID, snapshot.PairID, uint64(snapshot.Timestamp.UnixMilli()),
			snapshot.Liquidity, snapshot.Volume, snapshot.Fees,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	return batch.Send()
}

// exists checks if a snapshot with the given key exists.
func (s *SnapshotStore) exists(ctx context.Context, pairID string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM pair_snapshots
		WHERE pair = ? AND timestamp_ms = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, pairID, uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.Snapshot, error) {
	var snapshots []*domain.Snapshot

	for rows.Next() {
		var s domain.Snapshot
		var timestampMs uint64

		err := rows.Scan(
			&s.ID, &s.PairID, &timestampMs,
			&s.Liquidity, &s.Volume, &s.Fees,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		s.Timestamp = time.UnixMilli(int64(timestampMs)).UTC()
		snapshots = append(snapshots, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snapshots, nil
}
