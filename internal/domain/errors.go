package domain

import "errors"

// Measurement source errors. They live here so any source implementation can
// wrap them without importing the ingestion package.
var (
	// ErrPairNotFound is returned when the source does not know the pair or has no data for it.
	ErrPairNotFound = errors.New("pair not found at source")

	// ErrSourceUnavailable is returned for transport, status or protocol failures.
	ErrSourceUnavailable = errors.New("measurement source unavailable")
)
