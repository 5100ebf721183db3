package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/observability"
	"pair-apr-lab/internal/storage"
)

// Defaults for SchedulerOptions.
const (
	DefaultInitialFetchHours = 48
	DefaultSnapshotInterval  = 60 * time.Minute
	DefaultMaxCatchUpHours   = 720
	DefaultBatchSize         = 1000
)

// Action is the decision taken for a pair in one reconcile.
type Action string

// Reconcile actions.
const (
	ActionBackfill Action = "backfill"   // no history: initial window fetched
	ActionAppend   Action = "append"     // newer measurements persisted
	ActionSkip     Action = "skip"       // last snapshot younger than the interval
	ActionUpToDate Action = "up_to_date" // fetched, nothing newer than the last snapshot
	ActionLocked   Action = "locked"     // another process holds the pair lease
	ActionFailed   Action = "failed"
)

// Result summarizes one reconcile of one pair.
type Result struct {
	PairID     string        `json:"pair"`
	Action     Action        `json:"action"`
	Fetched    int           `json:"fetched"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Duration   time.Duration `json:"duration_ns"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// Scheduler decides per pair whether to backfill, append or skip, and
// persists snapshots through the store.
type Scheduler struct {
	source     MeasurementSource
	sourceName string
	store      storage.SnapshotStore
	pairs      []string
	lease      Lease
	sinks      []SnapshotSink

	initialFetchHours int
	snapshotInterval  time.Duration
	maxCatchUpHours   int
	batchSize         int

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
	clock   func() time.Time

	running atomic.Bool
}

// SchedulerOptions contains configuration for creating a Scheduler.
type SchedulerOptions struct {
	Source     MeasurementSource
	SourceName string // metrics label; default "source"
	Store      storage.SnapshotStore
	Pairs      []string
	Lease      Lease          // optional
	Sinks      []SnapshotSink // optional

	InitialFetchHours int           // Default: 48
	SnapshotInterval  time.Duration // Default: 60m
	MaxCatchUpHours   int           // Default: 720 - cap on a warm fetch after a long outage
	BatchSize         int           // Default: 1000 - rows per InsertMany on backfill

	Logger  logrus.FieldLogger     // Default: logrus.StandardLogger()
	Metrics *observability.Metrics // Default: observability.DefaultMetrics
	Tracer  trace.Tracer           // Default: observability.Tracer()
	Clock   func() time.Time       // Default: time.Now
}

// NewScheduler creates a new ingestion scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		source:            opts.Source,
		sourceName:        opts.SourceName,
		store:             opts.Store,
		pairs:             append([]string(nil), opts.Pairs...),
		lease:             opts.Lease,
		sinks:             opts.Sinks,
		initialFetchHours: opts.InitialFetchHours,
		snapshotInterval:  opts.SnapshotInterval,
		maxCatchUpHours:   opts.MaxCatchUpHours,
		batchSize:         opts.BatchSize,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		tracer:            opts.Tracer,
		clock:             opts.Clock,
	}

	if s.sourceName == "" {
		s.sourceName = "source"
	}
	if s.initialFetchHours <= 0 {
		s.initialFetchHours = DefaultInitialFetchHours
	}
	if s.snapshotInterval <= 0 {
		s.snapshotInterval = DefaultSnapshotInterval
	}
	if s.maxCatchUpHours <= 0 {
		s.maxCatchUpHours = DefaultMaxCatchUpHours
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.metrics == nil {
		s.metrics = observability.DefaultMetrics
	}
	if s.tracer == nil {
		s.tracer = observability.Tracer()
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	return s
}

// Pairs returns the tracked pair ids.
func (s *Scheduler) Pairs() []string {
	return append([]string(nil), s.pairs...)
}

// Run reconciles all pairs immediately and then every interval until ctx is cancelled.
// Runs execute on the caller's goroutine, so Run returns only after the run in
// flight has finished. A tick that fires while a run is still going is skipped.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.logger.WithField("interval", interval).Info("ingestion scheduler started")

	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingestion scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
			select {
			case <-ticker.C:
				s.logger.Warn("ingestion run overran the interval, skipping tick")
			default:
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous ingestion run still in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	s.RunOnce(ctx)
}

// RunOnce reconciles every tracked pair concurrently and waits for all of them.
// A failing pair never affects the others. Results are in Pairs() order.
func (s *Scheduler) RunOnce(ctx context.Context) []Result {
	now := s.clock()
	results := make([]Result, len(s.pairs))

	var wg sync.WaitGroup
	for i, pairID := range s.pairs {
		wg.Add(1)
		go func(i int, pairID string) {
			defer wg.Done()
			results[i], _ = s.Reconcile(ctx, pairID, now)
		}(i, pairID)
	}
	wg.Wait()

	ok, failed := Summarize(results)
	entry := s.logger.WithFields(logrus.Fields{"ok": ok, "failed": failed})
	if failed == 0 {
		s.metrics.LastSuccessfulIngestion.Set(float64(now.Unix()))
		entry.Info("ingestion run completed")
	} else {
		entry.Warn("ingestion run completed with failures")
	}

	return results
}

// Summarize counts successful and failed results.
func Summarize(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed
}

// Reconcile brings one pair's archive up to date as of now:
//   - no snapshots: fetch the initial window and persist all of it
//   - last snapshot younger than the interval: skip
//   - otherwise: fetch and persist every measurement newer than the last snapshot
//
// A fetch failure writes nothing. A store failure stops the pair's remaining writes.
// The pair id is normalized first; a malformed id fails with ErrNotFound.
// The returned Result is also populated on error.
func (s *Scheduler) Reconcile(ctx context.Context, pairID string, now time.Time) (Result, error) {
	normalized, normErr := domain.NormalizePairID(pairID)
	if normErr == nil {
		pairID = normalized
	}

	ctx, span := s.tracer.Start(ctx, "ingestion.reconcile",
		trace.WithAttributes(attribute.String("pair", pairID)))
	defer span.End()

	start := time.Now()
	res := Result{PairID: pairID}
	log := s.logger.WithField("pair", pairID)

	var err error
	if normErr != nil {
		err = fmt.Errorf("%w: %q: %w", ErrNotFound, pairID, normErr)
	} else {
		err = s.reconcile(ctx, pairID, now, &res, log)
	}

	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("action", string(res.Action)),
		attribute.Int("inserted", res.Inserted),
	)

	if err != nil {
		res.Action = ActionFailed
		res.Err = err
		res.Error = err.Error()
		kind := errorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		s.metrics.RecordReconcileError(pairID, kind)
		log.WithFields(logrus.Fields{
			"action":   ActionFailed,
			"kind":     kind,
			"inserted": res.Inserted,
		}).WithError(err).Error("reconcile failed")
	}
	s.metrics.RecordReconcile(pairID, string(res.Action), res.Inserted, res.Duplicates, res.Duration)

	return res, err
}

func (s *Scheduler) reconcile(ctx context.Context, pairID string, now time.Time, res *Result, log logrus.FieldLogger) error {
	if s.lease != nil {
		release, acquired, err := s.lease.TryAcquire(ctx, pairID)
		if err != nil {
			return fmt.Errorf("acquire lease: %w", err)
		}
		if !acquired {
			res.Action = ActionLocked
			log.WithField("action", ActionLocked).Info("pair is being reconciled elsewhere")
			return nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("release lease")
			}
		}()
	}

	last, err := s.store.FindLatest(ctx, pairID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return &StoreError{PairID: pairID, Err: fmt.Errorf("find latest: %w", err)}
	}

	if last == nil {
		return s.backfill(ctx, pairID, res, log)
	}

	elapsed := now.Sub(last.Timestamp)
	if elapsed < s.snapshotInterval {
		res.Action = ActionSkip
		log.WithFields(logrus.Fields{
			"action":          ActionSkip,
			"elapsed_minutes": int(elapsed.Minutes()),
		}).Debug("last snapshot is recent, skipping")
		return nil
	}

	return s.appendNewer(ctx, pairID, last, elapsed, res, log)
}

// backfill persists the initial window for a pair with no history.
// A short history from the source is not an error.
func (s *Scheduler) backfill(ctx context.Context, pairID string, res *Result, log logrus.FieldLogger) error {
	res.Action = ActionBackfill

	measurements, err := s.fetch(ctx, pairID, s.initialFetchHours)
	if err != nil {
		return err
	}
	res.Fetched = len(measurements)

	snapshots := s.toSnapshots(pairID, measurements, log)

	// Only fully inserted batches are published; InsertMany does not say
	// which rows of a partial batch were duplicates.
	var written []*domain.Snapshot
	for start := 0; start < len(snapshots); start += s.batchSize {
		end := min(start+s.batchSize, len(snapshots))
		batch := snapshots[start:end]

		n, err := s.store.InsertMany(ctx, batch)
		if err != nil {
			s.afterWrite(ctx, pairID, written)
			return &StoreError{PairID: pairID, Written: res.Inserted, Err: err}
		}
		res.Inserted += n
		res.Duplicates += len(batch) - n

		switch {
		case n == len(batch):
			written = append(written, batch...)
		case n > 0:
			log.WithFields(logrus.Fields{
				"inserted":   n,
				"duplicates": len(batch) - n,
			}).Warn("batch partially duplicated, not published")
		}
	}

	s.afterWrite(ctx, pairID, written)
	log.WithFields(logrus.Fields{
		"action":     ActionBackfill,
		"fetched":    res.Fetched,
		"inserted":   res.Inserted,
		"duplicates": res.Duplicates,
	}).Info("initial history stored")
	return nil
}

// appendNewer persists, in ascending order, every measurement newer than last.
func (s *Scheduler) appendNewer(ctx context.Context, pairID string, last *domain.Snapshot, elapsed time.Duration, res *Result, log logrus.FieldLogger) error {
	res.Action = ActionAppend

	measurements, err := s.fetch(ctx, pairID, s.catchUpLimit(elapsed))
	if err != nil {
		return err
	}
	res.Fetched = len(measurements)

	snapshots := s.toSnapshots(pairID, NewerThan(measurements, last.Timestamp), log)

	var written []*domain.Snapshot
	for _, snapshot := range snapshots {
		err := s.store.Insert(ctx, snapshot)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			res.Duplicates++
		case err != nil:
			s.afterWrite(ctx, pairID, written)
			return &StoreError{PairID: pairID, Written: res.Inserted, Err: err}
		default:
			res.Inserted++
			written = append(written, snapshot)
		}
	}

	if res.Inserted == 0 && res.Duplicates == 0 {
		res.Action = ActionUpToDate
	}

	s.afterWrite(ctx, pairID, written)
	log.WithFields(logrus.Fields{
		"action":          res.Action,
		"elapsed_minutes": int(elapsed.Minutes()),
		"fetched":         res.Fetched,
		"inserted":        res.Inserted,
		"duplicates":      res.Duplicates,
	}).Info("new snapshots stored")
	return nil
}

// catchUpLimit is the number of hourly measurements needed to cover elapsed.
func (s *Scheduler) catchUpLimit(elapsed time.Duration) int {
	n := int(elapsed/time.Hour) + 1
	return max(1, min(n, s.maxCatchUpHours))
}

func (s *Scheduler) fetch(ctx context.Context, pairID string, limit int) ([]*domain.Measurement, error) {
	ctx, span := s.tracer.Start(ctx, "ingestion.fetch",
		trace.WithAttributes(attribute.String("pair", pairID), attribute.Int("limit", limit)))
	defer span.End()

	start := time.Now()
	measurements, err := s.source.Fetch(ctx, pairID, limit)
	s.metrics.RecordFetch(s.sourceName, time.Since(start), errorKind(err))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetch %d measurements: %w", limit, err)
	}
	return measurements, nil
}

// toSnapshots drops invalid or foreign measurements, sorts ascending,
// removes repeated timestamps and converts to snapshots. Input that is
// already strictly ascending is converted as is.
func (s *Scheduler) toSnapshots(pairID string, measurements []*domain.Measurement, log logrus.FieldLogger) []*domain.Snapshot {
	kept := make([]*domain.Measurement, 0, len(measurements))
	for _, m := range measurements {
		if !validMeasurement(m) || m.PairID != pairID {
			log.WithField("measurement", m).Warn("dropping invalid measurement")
			continue
		}
		kept = append(kept, m)
	}

	if ValidateMeasurementOrdering(kept) != nil {
		SortMeasurements(kept)
		kept = Dedupe(kept)
	}

	snapshots := make([]*domain.Snapshot, len(kept))
	for i, m := range kept {
		snapshots[i] = domain.NewSnapshot(m)
	}
	return snapshots
}

// afterWrite updates gauges and fans written snapshots out to sinks.
func (s *Scheduler) afterWrite(ctx context.Context, pairID string, written []*domain.Snapshot) {
	if len(written) == 0 {
		return
	}
	newest := written[len(written)-1]
	s.metrics.LastSnapshotTimestamp.WithLabelValues(pairID).Set(float64(newest.Timestamp.Unix()))

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, written); err != nil {
			s.metrics.PublishErrors.WithLabelValues(sink.Name()).Inc()
			s.logger.WithFields(logrus.Fields{
				"pair": pairID,
				"sink": sink.Name(),
			}).WithError(err).Warn("publish snapshots")
		}
	}
}
