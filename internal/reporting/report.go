package reporting

import "time"

// Report summarizes stored history and smoothed APR for a set of pairs over a range.
type Report struct {
	GeneratedAt time.Time
	From        time.Time
	To          time.Time

	// Sorted by pair id
	Pairs []PairReport
}

// PairReport is the per-pair section of a report.
type PairReport struct {
	PairID string

	// Data quality
	Snapshots     int
	ExpectedHours int
	Coverage      float64 // Snapshots / ExpectedHours, 0 when nothing is expected
	Gaps          []Gap

	// One entry per allowed moving-average window, ascending
	Windows []WindowStats

	// One row per snapshot, oldest first
	Series []SeriesRow
}

// Gap is a run of missing hourly snapshots between two stored ones.
type Gap struct {
	Start time.Time // first missing hour
	Hours int
}

// WindowStats describes one smoothed series.
type WindowStats struct {
	Hours int
	Min   float64
	Max   float64
	Mean  float64
	Last  float64
}

// SeriesRow holds the APR for each window at one timestamp.
// APR is aligned with PairReport.Windows.
type SeriesRow struct {
	Timestamp time.Time
	APR       []float64
}
