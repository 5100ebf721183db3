package reporting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/storage"
	"pair-apr-lab/internal/storage/memory"
)

const (
	pairA = "0xbc9d21652cca70f54351e3fb982c6b5dbe992a22"
	pairB = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// setupTestData stores hours 0..9 for pairA except 4 and 5.
func setupTestData(t *testing.T) *memory.SnapshotStore {
	store := memory.NewSnapshotStore()
	var snapshots []*domain.Snapshot
	for h := 0; h < 10; h++ {
		if h == 4 || h == 5 {
			continue
		}
		snapshots = append(snapshots, &domain.Snapshot{
			PairID:    pairA,
			Timestamp: t0.Add(time.Duration(h) * time.Hour),
			Liquidity: decimal.NewFromInt(1_000_000),
			Volume:    decimal.NewFromInt(41_666),
			Fees:      decimal.NewFromInt(125),
		})
	}
	if _, err := store.InsertMany(context.Background(), snapshots); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	return store
}

func fixedClock() time.Time { return time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC) }

func generate(t *testing.T) *Report {
	t.Helper()
	g := NewGenerator(setupTestData(t)).WithClock(fixedClock)
	r, err := g.Generate(context.Background(), []string{pairB, pairA}, t0, t0.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return r
}

// pairReport returns the report for pairID from r.
func pairReport(t *testing.T, r *Report, pairID string) PairReport {
	t.Helper()
	for _, p := range r.Pairs {
		if p.PairID == pairID {
			return p
		}
	}
	t.Fatalf("no report for %s", pairID)
	return PairReport{}
}

func TestGenerator_DataQuality(t *testing.T) {
	r := generate(t)

	if !r.GeneratedAt.Equal(fixedClock()) {
		t.Errorf("GeneratedAt = %v, want fixed clock", r.GeneratedAt)
	}
	// Pair ids sort lexically: pairB (0xb4...) before pairA (0xbc...)
	if len(r.Pairs) != 2 || r.Pairs[0].PairID != pairB || r.Pairs[1].PairID != pairA {
		t.Fatalf("pairs not sorted: %+v", r.Pairs)
	}

	a := pairReport(t, r, pairA)
	if a.Snapshots != 8 || a.ExpectedHours != 10 {
		t.Errorf("snapshots/expected = %d/%d, want 8/10", a.Snapshots, a.ExpectedHours)
	}
	if a.Coverage != 0.8 {
		t.Errorf("Coverage = %v, want 0.8", a.Coverage)
	}
	if len(a.Gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(a.Gaps))
	}
	if !a.Gaps[0].Start.Equal(t0.Add(4*time.Hour)) || a.Gaps[0].Hours != 2 {
		t.Errorf("gap = %+v, want 2 hours from hour 4", a.Gaps[0])
	}

	b := pairReport(t, r, pairB)
	if b.Snapshots != 0 || b.Coverage != 0 || len(b.Series) != 0 {
		t.Errorf("empty pair report = %+v", b)
	}
}

func TestGenerator_WindowStats(t *testing.T) {
	a := pairReport(t, generate(t), pairA)

	// Constant 125 fees on 1M liquidity: every window yields a flat series
	want := map[int]float64{1: 109.5, 12: 9.125, 24: 4.5625}

	if len(a.Windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(a.Windows))
	}
	for _, w := range a.Windows {
		apr := want[w.Hours]
		if w.Min != apr || w.Max != apr || w.Mean != apr || w.Last != apr {
			t.Errorf("window %dh stats = %+v, want all %v", w.Hours, w, apr)
		}
	}

	if len(a.Series) != 8 {
		t.Fatalf("expected 8 series rows, got %d", len(a.Series))
	}
	if got := a.Series[0].APR; got[0] != 109.5 || got[2] != 4.5625 {
		t.Errorf("first row APR = %v", got)
	}
}

func TestGenerator_InvalidRange(t *testing.T) {
	g := NewGenerator(memory.NewSnapshotStore())
	_, err := g.Generate(context.Background(), []string{pairA}, t0.Add(time.Hour), t0)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExpectedHours(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{"aligned", t0, t0.Add(23 * time.Hour), 24},
		{"single hour", t0, t0, 1},
		{"unaligned from", t0.Add(30 * time.Minute), t0.Add(2 * time.Hour), 2},
		{"no hour start inside", t0.Add(10 * time.Minute), t0.Add(50 * time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expectedHours(tt.from, tt.to); got != tt.want {
				t.Errorf("expectedHours = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(generate(t))

	for _, want := range []string{
		"# Pair APR Report",
		"Generated: 2024-05-02T12:00:00Z",
		"| " + pairA + " | 8 | 10 | 80.00% | 1 |",
		"| 1h | 109.5000 | 109.5000 | 109.5000 | 109.5000 |",
		"- 2024-05-01T04:00:00Z: 2 hour(s) missing",
		"No snapshots in range.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestRenderMarkdown_NoPairs(t *testing.T) {
	md := RenderMarkdown(&Report{GeneratedAt: fixedClock()})
	if !strings.Contains(md, "No pairs configured.") {
		t.Errorf("unexpected markdown:\n%s", md)
	}
}

func TestRenderCSV(t *testing.T) {
	csv := RenderCSV(pairReport(t, generate(t), pairA))
	lines := strings.Split(strings.TrimSpace(csv), "\n")

	if len(lines) != 9 {
		t.Fatalf("expected header + 8 rows, got %d lines", len(lines))
	}
	if lines[0] != "timestamp,apr_1h,apr_12h,apr_24h" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "2024-05-01T00:00:00Z,109.500000,9.125000,4.562500" {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[5], "2024-05-01T06:00:00Z,") {
		t.Errorf("row after gap = %q", lines[5])
	}
}
