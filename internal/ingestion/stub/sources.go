// Package stub provides deterministic in-memory measurement sources for tests and offline runs.
package stub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pair-apr-lab/internal/domain"
)

// StubMeasurementSource returns fixed in-memory measurements.
// Implements ingestion.MeasurementSource interface.
type StubMeasurementSource struct {
	mu           sync.Mutex
	measurements map[string][]*domain.Measurement // keyed by pair
	errs         map[string]error
	calls        []Call
}

// Call records one Fetch invocation.
type Call struct {
	PairID string
	Limit  int
}

// NewStubMeasurementSource creates a stub source with the given measurements.
func NewStubMeasurementSource(measurements []*domain.Measurement) *StubMeasurementSource {
	s := &StubMeasurementSource{
		measurements: make(map[string][]*domain.Measurement),
		errs:         make(map[string]error),
	}
	s.Add(measurements...)
	return s
}

// Add appends measurements, as if new hours were published.
func (s *StubMeasurementSource) Add(measurements ...*domain.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range measurements {
		s.measurements[m.PairID] = append(s.measurements[m.PairID], m)
	}
}

// FailWith makes Fetch for pairID return err until cleared with nil.
func (s *StubMeasurementSource) FailWith(pairID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, pairID)
		return
	}
	s.errs[pairID] = err
}

// Calls returns the recorded Fetch calls.
func (s *StubMeasurementSource) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Fetch returns up to limit of the newest measurements for the pair, newest first.
// A pair with no measurements fails with domain.ErrPairNotFound.
// Returns copies to prevent mutation.
func (s *StubMeasurementSource) Fetch(_ context.Context, pairID string, limit int) ([]*domain.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{PairID: pairID, Limit: limit})
	if err := s.errs[pairID]; err != nil {
		return nil, err
	}
	if len(s.measurements[pairID]) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrPairNotFound, pairID)
	}

	all := make([]*domain.Measurement, 0, len(s.measurements[pairID]))
	for _, m := range s.measurements[pairID] {
		c := *m
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Hourly generates n consecutive hourly measurements for pairID starting at start.
// Values vary with the hour index so series are not constant.
func Hourly(pairID string, start time.Time, n int) []*domain.Measurement {
	out := make([]*domain.Measurement, n)
	for i := 0; i < n; i++ {
		volume := decimal.NewFromInt(int64(10_000 + 100*(i%24)))
		out[i] = &domain.Measurement{
			PairID:    pairID,
			Timestamp: start.Add(time.Duration(i) * time.Hour).UTC(),
			Reserve:   decimal.NewFromInt(int64(1_000_000 + 1_000*i)),
			Volume:    volume,
			Fees:      domain.FeesFromVolume(volume),
		}
	}
	return out
}
