package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Measurement is one hourly reading for a pair as returned by a measurement source.
// Values are USD-denominated and non-negative.
type Measurement struct {
	PairID    string          // lowercase 0x-prefixed pair address
	Timestamp time.Time       // start of the hour the reading covers (UTC)
	Reserve   decimal.Decimal // total pool reserve (liquidity)
	Volume    decimal.Decimal // traded volume during the hour
	Fees      decimal.Decimal // fees earned during the hour
}

// Snapshot is a persisted measurement.
// Corresponds to pair_snapshots table; (pair, timestamp) is unique.
type Snapshot struct {
	ID        string          `json:"id"`        // opaque uuid
	PairID    string          `json:"pair"`      // lowercase 0x-prefixed pair address
	Timestamp time.Time       `json:"timestamp"` // UTC hour start
	Liquidity decimal.Decimal `json:"liquidity"`
	Volume    decimal.Decimal `json:"volume"`
	Fees      decimal.Decimal `json:"fees"`
}

// NewSnapshot converts a measurement into a snapshot with a fresh id.
func NewSnapshot(m *Measurement) *Snapshot {
	return &Snapshot{
		ID:        uuid.NewString(),
		PairID:    m.PairID,
		Timestamp: m.Timestamp.UTC(),
		Liquidity: m.Reserve,
		Volume:    m.Volume,
		Fees:      m.Fees,
	}
}

// AprPoint is one element of a smoothed APR series. Never persisted.
type AprPoint struct {
	Timestamp time.Time `json:"timestamp"`
	APR       float64   `json:"apr"`
}
