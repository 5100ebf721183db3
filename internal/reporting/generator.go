package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/metrics"
	"pair-apr-lab/internal/storage"
)

// Generator produces reports from stored snapshots.
type Generator struct {
	store   metrics.SnapshotReader
	windows []int
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator over store.
func NewGenerator(store metrics.SnapshotReader) *Generator {
	return &Generator{
		store:   store,
		windows: metrics.AllowedWindows,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report for pairs over the inclusive range [from, to].
func (g *Generator) Generate(ctx context.Context, pairs []string, from, to time.Time) (*Report, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: from after to", storage.ErrInvalidInput)
	}

	sorted := append([]string(nil), pairs...)
	sort.Strings(sorted)

	r := &Report{
		GeneratedAt: g.now(),
		From:        from.UTC(),
		To:          to.UTC(),
	}
	for _, pair := range sorted {
		pr, err := g.generatePair(ctx, pair, from, to)
		if err != nil {
			return nil, fmt.Errorf("report %s: %w", pair, err)
		}
		r.Pairs = append(r.Pairs, pr)
	}
	return r, nil
}

func (g *Generator) generatePair(ctx context.Context, pair string, from, to time.Time) (PairReport, error) {
	snapshots, err := g.store.Query(ctx, storage.SnapshotQuery{PairID: pair, From: from, To: to})
	if err != nil {
		return PairReport{}, err
	}

	pr := PairReport{
		PairID:        pair,
		Snapshots:     len(snapshots),
		ExpectedHours: expectedHours(from, to),
		Gaps:          findGaps(snapshots),
	}
	if pr.ExpectedHours > 0 {
		pr.Coverage = float64(pr.Snapshots) / float64(pr.ExpectedHours)
	}

	pr.Series = make([]SeriesRow, len(snapshots))
	for i, s := range snapshots {
		pr.Series[i] = SeriesRow{Timestamp: s.Timestamp, APR: make([]float64, len(g.windows))}
	}

	for wi, hours := range g.windows {
		points, err := metrics.MovingAverageAPRByHours(snapshots, hours)
		if err != nil {
			return PairReport{}, err
		}
		for i, p := range points {
			pr.Series[i].APR[wi] = p.APR
		}
		pr.Windows = append(pr.Windows, summarize(hours, points))
	}

	return pr, nil
}

// expectedHours counts hour starts inside [from, to].
func expectedHours(from, to time.Time) int {
	first := from.Truncate(time.Hour)
	if first.Before(from) {
		first = first.Add(time.Hour)
	}
	if first.After(to) {
		return 0
	}
	return int(to.Sub(first)/time.Hour) + 1
}

func findGaps(snapshots []*domain.Snapshot) []Gap {
	var gaps []Gap
	for i := 1; i < len(snapshots); i++ {
		delta := snapshots[i].Timestamp.Sub(snapshots[i-1].Timestamp)
		if missing := int(delta/time.Hour) - 1; missing > 0 {
			gaps = append(gaps, Gap{
				Start: snapshots[i-1].Timestamp.Add(time.Hour),
				Hours: missing,
			})
		}
	}
	return gaps
}

func summarize(hours int, points []domain.AprPoint) WindowStats {
	ws := WindowStats{Hours: hours}
	if len(points) == 0 {
		return ws
	}

	ws.Min, ws.Max = points[0].APR, points[0].APR
	var sum float64
	for _, p := range points {
		ws.Min = min(ws.Min, p.APR)
		ws.Max = max(ws.Max, p.APR)
		sum += p.APR
	}
	ws.Mean = sum / float64(len(points))
	ws.Last = points[len(points)-1].APR
	return ws
}
