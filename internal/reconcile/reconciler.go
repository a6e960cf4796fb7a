// Package reconcile repairs jobs whose queue message or worker was lost.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"simjobs/internal/apperrors"
	"simjobs/internal/job"
	"simjobs/internal/observability"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Redispatcher re-publishes the queue message of an existing job.
type Redispatcher interface {
	Redispatch(ctx context.Context, j *job.Job) error
}

// MetricsRecorder is an optional interface for recording reconciliation metrics.
type MetricsRecorder interface {
	RecordReconciled(ctx context.Context, action string)
}

// Report summarizes one sweep.
type Report struct {
	Redispatched int `json:"redispatched"` // stale Submitted jobs re-published
	Requeued     int `json:"requeued"`     // stale Running jobs released to Submitted and re-published
	Skipped      int `json:"skipped"`      // jobs that moved on, or were repaired elsewhere, before this sweep got to them
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source used for staleness cutoffs.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler finds Submitted jobs without a live message and Running jobs
// without a live worker. Sweeps are serialized.
type Reconciler struct {
	store   job.Store
	queue   Redispatcher
	cfg     Config
	metrics MetricsRecorder
	now     func() time.Time
	logger  *slog.Logger

	mu sync.Mutex
}

// New creates a reconciler. metrics may be nil.
func New(store job.Store, r Redispatcher, cfg Config, metrics MetricsRecorder, opts ...Option) *Reconciler {
	rec := &Reconciler{
		store:   store,
		queue:   r,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		now:     time.Now,
		logger:  slog.With("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// Run sweeps every Interval until ctx is cancelled. A zero Interval returns at once.
func (r *Reconciler) Run(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		r.logger.Info("Periodic reconciliation disabled")
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass. Jobs that changed state since they were
// listed are skipped; the first store or queue failure aborts the pass.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "reconcile.Sweep")
	defer span.End()

	var report Report
	now := r.now()

	cutoff := now.Add(-r.cfg.SubmittedGracePeriod)
	submitted, err := r.store.ListStale(ctx, job.StatusSubmitted, cutoff, r.cfg.BatchLimit)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("list stale submitted jobs: %w", err)
	}
	for i := range submitted {
		if err := r.redispatch(ctx, &submitted[i], cutoff, &report); err != nil {
			span.RecordError(err)
			return report, err
		}
	}

	staleAfter := now.Add(-r.cfg.RunningStaleAfter)
	running, err := r.store.ListStale(ctx, job.StatusRunning, staleAfter, r.cfg.BatchLimit)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("list stale running jobs: %w", err)
	}
	for i := range running {
		if err := r.release(ctx, &running[i], staleAfter, &report); err != nil {
			span.RecordError(err)
			return report, err
		}
	}

	span.SetAttributes(
		attribute.Int("reconcile.redispatched", report.Redispatched),
		attribute.Int("reconcile.requeued", report.Requeued),
		attribute.Int("reconcile.skipped", report.Skipped),
	)
	if report != (Report{}) {
		r.logger.Info("Reconciliation sweep finished",
			"redispatched", report.Redispatched,
			"requeued", report.Requeued,
			"skipped", report.Skipped)
	}
	return report, nil
}

// redispatch re-publishes a Submitted job that has had no message for a grace
// period. The touch comes first so that the job waits another full grace period
// before it is eligible again, and so that of several sweeps only one publishes.
func (r *Reconciler) redispatch(ctx context.Context, j *job.Job, cutoff time.Time, report *Report) error {
	touched, err := r.store.Touch(ctx, j.ID, job.StatusSubmitted, cutoff)
	if skip, err := r.raced(err, report); skip || err != nil {
		return err
	}
	if err := r.queue.Redispatch(ctx, touched); err != nil {
		// Eligible again once the grace period passes.
		return fmt.Errorf("redispatch job %s: %w", j.ID, err)
	}
	report.Redispatched++
	r.record(ctx, observability.ReconcileRedispatched)
	r.logger.Info("Re-published job without a recent message", "jobId", j.ID, "updatedAt", j.UpdatedAt)
	return nil
}

// release hands a stale Running job back to the queue. Its worker crashed, or
// finished but could not record the outcome; neither is a compute failure, so
// the attempt is returned rather than charged to the retry budget.
func (r *Reconciler) release(ctx context.Context, j *job.Job, staleAfter time.Time, report *Report) error {
	released, err := r.store.Release(ctx, j.ID, staleAfter)
	if skip, err := r.raced(err, report); skip || err != nil {
		return err
	}
	if err := r.queue.Redispatch(ctx, released); err != nil {
		// The job is Submitted now; a later sweep re-publishes it.
		return fmt.Errorf("redispatch job %s: %w", j.ID, err)
	}
	report.Requeued++
	r.record(ctx, observability.ReconcileRequeued)
	r.logger.Warn("Stale running job released for another attempt",
		"jobId", j.ID, "attempts", j.Attempts, "updatedAt", j.UpdatedAt)
	return nil
}

// raced reports whether err means the job moved on and should be skipped.
func (r *Reconciler) raced(err error, report *Report) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrNotFound):
		report.Skipped++
		return true, nil
	default:
		return false, err
	}
}

func (r *Reconciler) record(ctx context.Context, action string) {
	if r.metrics != nil {
		r.metrics.RecordReconciled(ctx, action)
	}
}
