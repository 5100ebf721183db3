package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using SQLite.
// Decimals are stored as TEXT and timestamps as unix milliseconds.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const insertIgnore = `
	INSERT OR IGNORE INTO pair_snapshots (id, pair, timestamp_ms, liquidity, volume, fees)
	VALUES (?, ?, ?, ?, ?, ?)
`

// Insert adds a new snapshot. Returns ErrDuplicateKey if (pair, timestamp) exists.
func (s *SnapshotStore) Insert(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := storage.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	storage.AssignID(snapshot)

	res, err := s.db.ExecContext(ctx, insertIgnore, insertArgs(snapshot)...)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// InsertMany adds snapshots in one transaction, skipping (pair, timestamp) conflicts.
func (s *SnapshotStore) InsertMany(ctx context.Context, snapshots []*domain.Snapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	for _, snapshot := range snapshots {
		if err := storage.ValidateSnapshot(snapshot); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertIgnore)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, snapshot := range snapshots {
		storage.AssignID(snapshot)
		res, err := stmt.ExecContext(ctx, insertArgs(snapshot)...)
		if err != nil {
			return 0, fmt.Errorf("insert snapshot in batch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// FindLatest returns the newest snapshot for a pair or ErrNotFound.
func (s *SnapshotStore) FindLatest(ctx context.Context, pairID string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pair, timestamp_ms, liquidity, volume, fees
		FROM pair_snapshots
		WHERE pair = ?
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`, pairID)

	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find latest snapshot: %w", err)
	}
	return snapshot, nil
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
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "timestamp_ms <= ?")
		args = append(args, q.To.UnixMilli())
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, pair, timestamp_ms, liquidity, volume, fees FROM pair_snapshots")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if q.Desc {
		sb.WriteString(" ORDER BY timestamp_ms DESC, pair ASC")
	} else {
		sb.WriteString(" ORDER BY timestamp_ms ASC, pair ASC")
	}
	// SQLite requires LIMIT before OFFSET; -1 means unbounded.
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit == 0 {
			limit = -1
		}
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snapshots, nil
}

// Ping checks the database handle.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func insertArgs(snapshot *domain.Snapshot) []any {
	return []any{
		snapshot.ID,
		snapshot.PairID,
		snapshot.Timestamp.UnixMilli(),
		snapshot.Liquidity.String(),
		snapshot.Volume.String(),
		snapshot.Fees.String(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*domain.Snapshot, error) {
	var (
		snapshot                domain.Snapshot
		timestampMs             int64
		liquidity, volume, fees string
	)
	if err := row.Scan(&snapshot.ID, &snapshot.PairID, &timestampMs, &liquidity, &volume, &fees); err != nil {
		return nil, err
	}

	var err error
	if snapshot.Liquidity, err = decimal.NewFromString(liquidity); err != nil {
		return nil, fmt.Errorf("parse liquidity: %w", err)
	}
	if snapshot.Volume, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}
	if snapshot.Fees, err = decimal.NewFromString(fees); err != nil {
		return nil, fmt.Errorf("parse fees: %w", err)
	}
	snapshot.Timestamp = time.UnixMilli(timestampMs).UTC()

	return &snapshot, nil
}
