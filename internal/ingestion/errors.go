package ingestion

import (
	"errors"
	"fmt"

	"pair-apr-lab/internal/domain"
)

// Source errors. Measurement sources wrap these so the scheduler can classify failures.
var (
	// ErrNotFound is returned when the source does not know the pair or has no data for it.
	ErrNotFound = domain.ErrPairNotFound

	// ErrSourceUnavailable is returned for transport, status or protocol failures.
	ErrSourceUnavailable = domain.ErrSourceUnavailable
)

// StoreError reports a store failure partway through a pair's writes.
// Written counts snapshots persisted before the failure.
type StoreError struct {
	PairID  string
	Written int
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store snapshots for %s (after %d written): %v", e.PairID, e.Written, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// errorKind classifies err for metrics and logs.
func errorKind(err error) string {
	var storeErr *StoreError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &storeErr):
		return "store"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	default:
		return "other"
	}
}
