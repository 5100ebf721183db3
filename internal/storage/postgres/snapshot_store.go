package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `id::text, pair, timestamp, liquidity::text, volume::text, fees::text`

// Insert adds a new snapshot. Returns ErrDuplicateKey if (pair, timestamp) exists.
func (s *SnapshotStore) Insert(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := storage.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	storage.AssignID(snapshot)

	query := `
		INSERT INTO pair_snapshots (id, pair, timestamp, liquidity, volume, fees)
		VALUES ($1::uuid, $2, $3, $4::numeric, $5::numeric, $6::numeric)
	`

	_, err := s.pool.Exec(ctx, query, insertArgs(snapshot)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// InsertMany adds snapshots in one transaction, skipping (pair, timestamp) conflicts.
// Returns the number of rows inserted.
func (s *SnapshotStore) InsertMany(ctx context.Context, snapshots []*domain.Snapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	for _, snapshot := range snapshots {
		if err := storage.ValidateSnapshot(snapshot); err != nil {
			return 0, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO pair_snapshots (id, pair, timestamp, liquidity, volume, fees)
		VALUES ($1::uuid, $2, $3, $4::numeric, $5::numeric, $6::numeric)
		ON CONFLICT (pair, timestamp) DO NOTHING
	`

	inserted := 0
	for _, snapshot := range snapshots {
		storage.AssignID(snapshot)
		tag, err := tx.Exec(ctx, query, insertArgs(snapshot)...)
		if err != nil {
			return 0, fmt.Errorf("insert snapshot in batch: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}

// FindLatest returns the newest snapshot for a pair or ErrNotFound.
func (s *SnapshotStore) FindLatest(ctx context.Context, pairID string) (*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM pair_snapshots
		WHERE pair = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	snapshot, err := scanSnapshot(s.pool.QueryRow(ctx, query, pairID))
	if err != nil {
		if isNotFoundError(err) {
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
		args = append(args, q.PairID)
		where = append(where, fmt.Sprintf("pair = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		where = append(where, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + snapshotColumns + ` FROM pair_snapshots`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if q.Desc {
		sb.WriteString(" ORDER BY timestamp DESC, pair ASC")
	} else {
		sb.WriteString(" ORDER BY timestamp ASC, pair ASC")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Ping checks database connectivity.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func insertArgs(snapshot *domain.Snapshot) []any {
	return []any{
		snapshot.ID,
		snapshot.PairID,
		snapshot.Timestamp.UTC(),
		snapshot.Liquidity.String(),
		snapshot.Volume.String(),
		snapshot.Fees.String(),
	}
}

// scanSnapshot scans a single row. Works for pgx.Row and pgx.Rows.
func scanSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var (
		snapshot                domain.Snapshot
		liquidity, volume, fees string
	)

	err := row.Scan(
		&snapshot.ID,
		&snapshot.PairID,
		&snapshot.Timestamp,
		&liquidity,
		&volume,
		&fees,
	)
	if err != nil {
		return nil, err
	}

	if snapshot.Liquidity, err = decimal.NewFromString(liquidity); err != nil {
		return nil, fmt.Errorf("parse liquidity: %w", err)
	}
	if snapshot.Volume, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}
	if snapshot.Fees, err = decimal.NewFromString(fees); err != nil {
		return nil, fmt.Errorf("parse fees: %w", err)
	}
	snapshot.Timestamp = snapshot.Timestamp.UTC()

	return &snapshot, nil
}

// scanSnapshots scans multiple rows into a slice of Snapshot.
func scanSnapshots(rows pgx.Rows) ([]*domain.Snapshot, error) {
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
