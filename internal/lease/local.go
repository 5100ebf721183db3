// Package lease implements per-pair leases that keep two reconciles of the
// same pair from running at once.
package lease

import (
	"context"
	"sync"

	"pair-apr-lab/internal/ingestion"
)

// Local is an in-process lease. Suitable when a single scheduler runs.
type Local struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

// Compile-time interface check.
var _ ingestion.Lease = (*Local)(nil)

// NewLocal creates an empty in-process lease table.
func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

// TryAcquire takes key if nobody holds it. The returned release is a no-op
// once the lease has been released.
func (l *Local) TryAcquire(_ context.Context, key string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.next++
	token := l.next
	l.held[key] = token

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
		}
		return nil
	}
	return release, true, nil
}
