package ingestion

import (
	"errors"
	"sort"
	"time"

	"pair-apr-lab/internal/domain"
)

// ErrInvalidOrdering is returned when measurements are not strictly ascending.
var ErrInvalidOrdering = errors.New("measurements are not in ascending timestamp order")

// SortMeasurements orders measurements by (timestamp ASC, pair ASC).
func SortMeasurements(measurements []*domain.Measurement) {
	sort.SliceStable(measurements, func(i, j int) bool {
		return compareMeasurements(measurements[i], measurements[j]) < 0
	})
}

// ValidateMeasurementOrdering checks that measurements are strictly ascending.
// Returns ErrInvalidOrdering if not.
func ValidateMeasurementOrdering(measurements []*domain.Measurement) error {
	for i := 1; i < len(measurements); i++ {
		if compareMeasurements(measurements[i-1], measurements[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// NewerThan returns the measurements strictly after t, preserving order.
func NewerThan(measurements []*domain.Measurement, t time.Time) []*domain.Measurement {
	var out []*domain.Measurement
	for _, m := range measurements {
		if m != nil && m.Timestamp.After(t) {
			out = append(out, m)
		}
	}
	return out
}

// Dedupe drops repeated (pair, timestamp) entries from sorted measurements, keeping the first.
func Dedupe(measurements []*domain.Measurement) []*domain.Measurement {
	if len(measurements) < 2 {
		return measurements
	}
	out := measurements[:1]
	for _, m := range measurements[1:] {
		if compareMeasurements(out[len(out)-1], m) != 0 {
			out = append(out, m)
		}
	}
	return out
}

// validMeasurement reports whether m can become a snapshot.
func validMeasurement(m *domain.Measurement) bool {
	return m != nil && !m.Timestamp.IsZero() &&
		!m.Reserve.IsNegative() && !m.Volume.IsNegative() && !m.Fees.IsNegative()
}

// compareMeasurements returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, pair ASC)
func compareMeasurements(a, b *domain.Measurement) int {
	if !a.Timestamp.Equal(b.Timestamp) {
		if a.Timestamp.Before(b.Timestamp) {
			return -1
		}
		return 1
	}
	if a.PairID != b.PairID {
		if a.PairID < b.PairID {
			return -1
		}
		return 1
	}
	return 0
}
