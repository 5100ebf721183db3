package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/storage"
)

const (
	pairA = "0xbc9d21652cca70f54351e3fb982c6b5dbe992a22"
	pairB = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func snap(pair string, hour int) *domain.Snapshot {
	return &domain.Snapshot{
		PairID:    pair,
		Timestamp: base.Add(time.Duration(hour) * time.Hour),
		Liquidity: decimal.RequireFromString("1234567.891234567891"),
		Volume:    decimal.NewFromInt(10_000),
		Fees:      decimal.NewFromInt(30),
	}
}

func TestSnapshotStore_Postgres(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(pool)
	ctx := context.Background()

	t.Run("FindLatest empty", func(t *testing.T) {
		_, err := store.FindLatest(ctx, pairA)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Insert and FindLatest", func(t *testing.T) {
		require.NoError(t, store.Insert(ctx, snap(pairA, 0)))
		require.NoError(t, store.Insert(ctx, snap(pairA, 1)))

		latest, err := store.FindLatest(ctx, pairA)
		require.NoError(t, err)
		assert.True(t, latest.Timestamp.Equal(base.Add(time.Hour)))
		assert.NotEmpty(t, latest.ID)
		assert.True(t, latest.Liquidity.Equal(decimal.RequireFromString("1234567.891234567891")),
			"numeric must round-trip exactly, got %s", latest.Liquidity)
	})

	t.Run("Insert duplicate", func(t *testing.T) {
		err := store.Insert(ctx, snap(pairA, 0))
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("InsertMany skips duplicates", func(t *testing.T) {
		n, err := store.InsertMany(ctx, []*domain.Snapshot{
			snap(pairA, 1), snap(pairA, 2), snap(pairA, 3), snap(pairB, 1),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = store.InsertMany(ctx, []*domain.Snapshot{snap(pairA, 3)})
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("Query range ascending", func(t *testing.T) {
		got, err := store.Query(ctx, storage.SnapshotQuery{
			PairID: pairA,
			From:   base.Add(time.Hour),
			To:     base.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
		assert.True(t, got[1].Timestamp.Before(got[2].Timestamp))
	})

	t.Run("Query all pairs paginated desc", func(t *testing.T) {
		got, err := store.Query(ctx, storage.SnapshotQuery{Desc: true, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.False(t, got[0].Timestamp.Before(got[1].Timestamp))
	})

	t.Run("Append-only", func(t *testing.T) {
		_, err := pool.Exec(ctx, `DELETE FROM pair_snapshots WHERE pair = $1`, pairA)
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
