package metrics

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pair-apr-lab/internal/domain"
)

// ErrInvalidSeries is returned when the input contains nil snapshots or is not
// in ascending timestamp order.
var ErrInvalidSeries = errors.New("snapshots must be non-nil and ordered by timestamp ascending")

// WindowMode selects how window membership is decided.
type WindowMode int

const (
	// ByHours keeps snapshots with timestamp in (t - size hours, t].
	ByHours WindowMode = iota
	// ByCount keeps the size most recent snapshots, including the current one.
	ByCount
)

func (m WindowMode) String() string {
	if m == ByCount {
		return "count"
	}
	return "hours"
}

// Window is a moving-average window. Size is hours for ByHours and a
// snapshot count for ByCount; it is also the APR annualization period.
type Window struct {
	Mode WindowMode
	Size int
}

// HoursWindow returns a time-bounded window.
func HoursWindow(hours int) Window { return Window{Mode: ByHours, Size: hours} }

// CountWindow returns a count-bounded window.
func CountWindow(size int) Window { return Window{Mode: ByCount, Size: size} }

// Validate rejects sizes outside AllowedWindows.
func (w Window) Validate() error {
	field := "window_hours"
	if w.Mode == ByCount {
		field = "window_size"
	}
	return ValidateWindow(field, w.Size)
}

// MovingAverageAPR converts ascending snapshots into an APR series of equal length.
// Each point uses the fee and liquidity sums of the window ending at that snapshot.
// The window is validated before any arithmetic.
//
// A ByHours window of H hours at t covers (t-H, t]: the lower bound is exclusive,
// so a snapshot exactly H hours older than t has already left the window. An
// inclusive [t-H, t] window would hold H+1 hourly snapshots instead of H.
func MovingAverageAPR(snapshots []*domain.Snapshot, w Window) ([]domain.AprPoint, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := checkOrder(snapshots); err != nil {
		return nil, err
	}

	var inWindow func(start, i int) bool
	switch w.Mode {
	case ByCount:
		size := w.Size
		inWindow = func(start, i int) bool { return i-start < size }
	default:
		span := time.Duration(w.Size) * time.Hour
		inWindow = func(start, i int) bool {
			return snapshots[start].Timestamp.After(snapshots[i].Timestamp.Add(-span))
		}
	}

	return slide(snapshots, w.Size, inWindow), nil
}

// MovingAverageAPRByHours is MovingAverageAPR with a time-bounded window.
func MovingAverageAPRByHours(snapshots []*domain.Snapshot, hours int) ([]domain.AprPoint, error) {
	return MovingAverageAPR(snapshots, HoursWindow(hours))
}

// slide walks the series once with running sums. Each snapshot enters the
// window once and leaves at most once, so the walk is O(n).
func slide(snapshots []*domain.Snapshot, hours int, inWindow func(start, i int) bool) []domain.AprPoint {
	points := make([]domain.AprPoint, len(snapshots))

	start := 0
	fees, liquidity := decimal.Zero, decimal.Zero

	for i, s := range snapshots {
		fees = fees.Add(s.Fees)
		liquidity = liquidity.Add(s.Liquidity)

		for start < i && !inWindow(start, i) {
			fees = fees.Sub(snapshots[start].Fees)
			liquidity = liquidity.Sub(snapshots[start].Liquidity)
			start++
		}

		points[i] = domain.AprPoint{
			Timestamp: s.Timestamp,
			APR:       CalculateAPR(fees, liquidity, hours),
		}
	}

	return points
}

func checkOrder(snapshots []*domain.Snapshot) error {
	for i, s := range snapshots {
		if s == nil {
			return ErrInvalidSeries
		}
		if i > 0 && s.Timestamp.Before(snapshots[i-1].Timestamp) {
			return ErrInvalidSeries
		}
	}
	return nil
}
