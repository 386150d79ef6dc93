package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"eventhub/internal/config"
	"eventhub/internal/constants"
	"eventhub/internal/event"
	"eventhub/internal/history"
	"eventhub/internal/logger"
	"eventhub/pkg/metrics"
)

// Scheduler drives the background sweeps of the event store: due
// retries, stuck PROCESSING rows, retention expiry and the purge of
// expired terminal events. Multiple scheduler instances may run
// against the same store; conditional claims keep them from doubling
// up on an event.
type Scheduler struct {
	lifecycle *event.Lifecycle
	store     event.Store
	recorder  *history.Recorder
	handler   event.Handler
	cfg       config.ProcessingConfig
	retention config.RetentionConfig
	logger    logger.Logger
	now       func() time.Time
}

func New(
	lifecycle *event.Lifecycle,
	store event.Store,
	recorder *history.Recorder,
	handler event.Handler,
	cfg config.ProcessingConfig,
	retention config.RetentionConfig,
	log logger.Logger,
) *Scheduler {
	return &Scheduler{
		lifecycle: lifecycle,
		store:     store,
		recorder:  recorder,
		handler:   handler,
		cfg:       cfg,
		retention: retention,
		logger:    log,
		now:       time.Now,
	}
}

// Run blocks until the context is cancelled, running each sweep on its
// own ticker.
func (s *Scheduler) Run(ctx context.Context) error {
	sweepInterval := s.cfg.SchedulerInterval
	if sweepInterval <= 0 {
		sweepInterval = constants.DefaultSchedulerInterval
	}
	retentionInterval := s.retention.SweepInterval
	if retentionInterval <= 0 {
		retentionInterval = constants.DefaultRetentionSweepInterval
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop(gCtx, sweepInterval, "retry", s.sweepRetries) })
	g.Go(func() error { return s.loop(gCtx, sweepInterval, "stuck", s.sweepStuck) })
	g.Go(func() error { return s.loop(gCtx, retentionInterval, "expiry", s.sweepExpired) })
	g.Go(func() error { return s.loop(gCtx, retentionInterval, "purge", s.purgeExpired) })
	g.Go(func() error { return s.loop(gCtx, sweepInterval, "status_gauge", s.refreshStatusGauge) })

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, sweep func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.ErrorwCtx(ctx, "Sweep failed",
					"sweep", name,
					"error", err,
				)
			}
		}
	}
}

// sweepRetries claims RETRY events whose nextRetryAt has passed,
// highest priority first, and runs a processing attempt for each. A
// claim lost to another scheduler instance is not an error.
func (s *Scheduler) sweepRetries(ctx context.Context) error {
	start := s.now()

	batch := s.cfg.SweepBatchSize
	if batch <= 0 {
		batch = constants.DefaultSweepBatchSize
	}

	due, err := s.store.FindDueRetries(ctx, s.now(), batch)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	workers := s.cfg.WorkerLimit
	if workers <= 0 {
		workers = constants.DefaultWorkerLimit
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range due {
		e := due[i]
		g.Go(func() error {
			if err := s.lifecycle.ProcessOnce(gCtx, e.EventID, s.handler); err != nil {
				s.logger.ErrorwCtx(gCtx, "Retry attempt failed to run",
					"event_id", e.EventID,
					"error", err,
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	metrics.ObserveRetrySweepDuration(s.now().Sub(start))
	s.logger.InfowCtx(ctx, "Retry sweep finished",
		"due", len(due),
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return nil
}

// sweepStuck recovers PROCESSING events whose processor stopped
// heartbeating before completing the attempt.
func (s *Scheduler) sweepStuck(ctx context.Context) error {
	timeout := s.cfg.StuckProcessingTimeout
	if timeout <= 0 {
		timeout = constants.DefaultStuckProcessingTimeout
	}

	batch := s.cfg.SweepBatchSize
	if batch <= 0 {
		batch = constants.DefaultSweepBatchSize
	}

	cutoff := s.now().Add(-timeout)
	stuck, err := s.store.FindStuckProcessing(ctx, cutoff, batch)
	if err != nil {
		return err
	}

	for i := range stuck {
		if err := s.lifecycle.ForceTimeout(ctx, &stuck[i]); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to recover stuck event",
				"event_id", stuck[i].EventID,
				"error", err,
			)
		}
	}

	if len(stuck) > 0 {
		s.logger.WarnwCtx(ctx, "Stuck sweep finished",
			"recovered", len(stuck),
			"cutoff", cutoff,
		)
	}

	return s.closeOrphanRows(ctx, cutoff, batch)
}

// closeOrphanRows closes stale open attempt rows whose event already
// moved on without the row being completed. Rows of events still in
// PROCESSING are left for ForceTimeout, which owns that transition.
func (s *Scheduler) closeOrphanRows(ctx context.Context, cutoff time.Time, limit int) error {
	orphans, err := s.recorder.OpenAttemptsStartedBefore(ctx, cutoff, limit)
	if err != nil {
		return err
	}

	closed := 0
	for i := range orphans {
		e, err := s.store.FindByID(ctx, orphans[i].EventID)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to load event for orphan attempt row",
				"event_id", orphans[i].EventID,
				"error", err,
			)
			continue
		}
		if e != nil && e.Status == event.StatusProcessing {
			continue
		}
		if err := s.recorder.CloseOrphan(ctx, &orphans[i]); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to close orphan attempt row",
				"event_id", orphans[i].EventID,
				"attempt_number", orphans[i].AttemptNumber,
				"error", err,
			)
			continue
		}
		closed++
	}

	if closed > 0 {
		s.logger.WarnwCtx(ctx, "Closed orphan attempt rows", "closed", closed)
	}
	return nil
}

// sweepExpired transitions non-terminal events past their retention
// window to EXPIRED.
func (s *Scheduler) sweepExpired(ctx context.Context) error {
	batch := s.cfg.SweepBatchSize
	if batch <= 0 {
		batch = constants.DefaultSweepBatchSize
	}

	candidates, err := s.store.FindExpiredCandidates(ctx, s.now(), batch)
	if err != nil {
		return err
	}

	expired := 0
	for i := range candidates {
		applied, err := s.lifecycle.Expire(ctx, &candidates[i])
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to expire event",
				"event_id", candidates[i].EventID,
				"error", err,
			)
			continue
		}
		if applied {
			expired++
		}
	}

	if expired > 0 {
		s.logger.InfowCtx(ctx, "Expiry sweep finished", "expired", expired)
	}
	return nil
}

// purgeExpired removes terminal events past their retention window
// along with their attempt ledgers. History rows go first so a crash
// between the two deletes never strands ledger rows without an event.
func (s *Scheduler) purgeExpired(ctx context.Context) error {
	batch := s.retention.PurgeBatchSize
	if batch <= 0 {
		batch = constants.DefaultSweepBatchSize
	}

	purgeable, err := s.store.FindPurgeable(ctx, s.now(), batch)
	if err != nil {
		return err
	}

	purged := 0
	for i := range purgeable {
		eventID := purgeable[i].EventID
		if err := s.recorder.Purge(ctx, eventID); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to purge event history",
				"event_id", eventID,
				"error", err,
			)
			continue
		}
		if err := s.store.Delete(ctx, eventID); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to purge event",
				"event_id", eventID,
				"error", err,
			)
			continue
		}
		purged++
	}

	if purged > 0 {
		metrics.EventsPurgedTotal.Add(float64(purged))
		s.logger.InfowCtx(ctx, "Retention purge finished", "purged", purged)
	}
	return nil
}

func (s *Scheduler) refreshStatusGauge(ctx context.Context) error {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for status, n := range counts {
		metrics.SetEventsByStatus(string(status), n)
	}
	return nil
}
