// Package worker claims queued jobs, computes them and records the outcome.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"simjobs/internal/apperrors"
	"simjobs/internal/job"
	"simjobs/internal/observability"
	"simjobs/internal/queue"
	"simjobs/pkg/backoff"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// releaseTimeout bounds store writes made after the delivery context is gone.
const releaseTimeout = 5 * time.Second

// ResultSink computes the result record for a parameter snapshot.
type ResultSink interface {
	Compute(ctx context.Context, params job.Parameters) (job.Result, error)
}

// MetricsRecorder is an optional interface for recording worker metrics.
type MetricsRecorder interface {
	RecordClaim(ctx context.Context, outcome string)
	RecordComputeStarted(ctx context.Context)
	RecordComputeFinished(ctx context.Context, success bool, durationSeconds float64)
	RecordOutcome(ctx context.Context, outcome string)
}

// Stats holds worker statistics.
type Stats struct {
	Claimed   int64
	Done      int64
	Retried   int64
	Failed    int64
	Discarded int64
	Deferred  int64
}

// Worker drives a job through Running to Done, Submitted or Failed for each
// delivery it handles. It holds no per-job state; Handle is safe for concurrent use.
type Worker struct {
	store   job.Store
	queue   queue.Queue
	sink    ResultSink
	cfg     Config
	metrics MetricsRecorder
	logger  *slog.Logger

	claimed   atomic.Int64
	done      atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
	deferred  atomic.Int64
}

// New creates a worker. metrics may be nil.
func New(store job.Store, q queue.Queue, sink ResultSink, cfg Config, metrics MetricsRecorder) *Worker {
	return &Worker{
		store:   store,
		queue:   q,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		logger:  slog.With("component", "worker"),
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started",
		"retryLimit", w.cfg.RetryLimit,
		"computeTimeout", w.cfg.ComputeTimeout)
	err := w.queue.Consume(ctx, w.Handle)
	w.logger.Info("Worker stopped")
	return err
}

// Handle processes one delivery and decides how it is settled.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) queue.Decision {
	id := d.Message.JobID
	logger := w.logger.With("jobId", id, "redelivered", d.Redelivered)

	ctx, span := observability.StartSpan(ctx, "worker.Handle", observability.JobIDAttr(id))
	defer span.End()

	claimed, err := w.store.Transition(ctx, id, job.StatusSubmitted, job.StatusRunning, nil)
	switch {
	case err == nil:
		w.recordClaim(ctx, observability.ClaimClaimed)
	case errors.Is(err, apperrors.ErrNotFound):
		w.recordClaim(ctx, observability.ClaimNotFound)
		logger.Info("Job no longer exists, discarding message")
		return queue.Ack()
	case errors.Is(err, apperrors.ErrConflict):
		w.recordClaim(ctx, observability.ClaimConflict)
		logger.Debug("Job already claimed or finished, discarding message", "error", err)
		return queue.Ack()
	default:
		w.recordClaim(ctx, observability.ClaimUnavailable)
		span.RecordError(err)
		logger.Warn("Claim failed, requeueing", "error", err)
		return w.requeueLater(ctx)
	}

	span.SetAttributes(attribute.Int("job.attempts", claimed.Attempts))
	logger = logger.With("attempt", claimed.Attempts)
	logger.Info("Job claimed")

	result, err := w.compute(ctx, claimed.Parameters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute failed")
		return w.fail(ctx, logger, claimed, err)
	}
	return w.complete(ctx, logger, claimed, result)
}

func (w *Worker) compute(ctx context.Context, params job.Parameters) (job.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ComputeTimeout)
	defer cancel()

	if w.metrics != nil {
		w.metrics.RecordComputeStarted(ctx)
	}
	start := time.Now()
	result, err := w.sink.Compute(ctx, params)
	if err == nil && len(result) == 0 {
		err = apperrors.Compute("worker.compute", errors.New("empty result"))
	}
	if w.metrics != nil {
		w.metrics.RecordComputeFinished(ctx, err == nil, time.Since(start).Seconds())
	}
	return result, err
}

// complete stores the result. The message is acked only once the write succeeded
// or the job turned out to be reset or deleted meanwhile.
func (w *Worker) complete(ctx context.Context, logger *slog.Logger, j *job.Job, result job.Result) queue.Decision {
	policy := backoff.Policy{
		Config:      backoff.Config{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
		MaxAttempts: w.cfg.DoneWriteAttempts,
		Retryable:   func(err error) bool { return errors.Is(err, apperrors.ErrUnavailable) },
	}
	err := backoff.Retry(ctx, policy, func(ctx context.Context) error {
		_, err := w.store.Transition(ctx, j.ID, job.StatusRunning, job.StatusDone, result)
		return err
	})
	switch {
	case err == nil:
		w.recordOutcome(ctx, observability.OutcomeDone)
		logger.Info("Job done")
		return queue.Ack()
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrNotFound):
		w.recordOutcome(ctx, observability.OutcomeDiscarded)
		logger.Warn("Job was reset or deleted during compute, discarding result", "error", err)
		return queue.Ack()
	default:
		w.recordOutcome(ctx, observability.OutcomeDeferred)
		logger.Error("Could not store result, requeueing", "error", err)
		return w.requeueLater(ctx)
	}
}

// fail spends one attempt of the retry budget. Store failures never mark a job
// Failed; the message is requeued and a stale Running job is repaired by the sweep.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, j *job.Job, cause error) queue.Decision {
	if ctx.Err() != nil {
		// Shutting down: hand the job back, attempt returned, without waiting on
		// the retry delay.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if _, err := w.store.Release(wctx, j.ID, time.Time{}); err != nil {
			logger.Warn("Could not release job on shutdown", "error", err)
		}
		w.recordOutcome(ctx, observability.OutcomeDeferred)
		logger.Info("Compute interrupted by shutdown, requeueing", "error", cause)
		return queue.Requeue()
	}

	if j.Attempts > w.cfg.RetryLimit {
		_, err := w.store.Transition(ctx, j.ID, job.StatusRunning, job.StatusFailed, nil)
		switch {
		case err == nil:
			w.recordOutcome(ctx, observability.OutcomeFailed)
			logger.Error("Job failed, retry budget exhausted", "retryLimit", w.cfg.RetryLimit, "error", cause)
			return queue.Drop()
		case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrNotFound):
			w.recordOutcome(ctx, observability.OutcomeDiscarded)
			logger.Warn("Job was reset or deleted during compute", "error", err)
			return queue.Ack()
		default:
			w.recordOutcome(ctx, observability.OutcomeDeferred)
			logger.Error("Could not mark job failed, requeueing", "error", err)
			return w.requeueLater(ctx)
		}
	}

	_, err := w.store.Transition(ctx, j.ID, job.StatusRunning, job.StatusSubmitted, nil)
	switch {
	case err == nil:
		w.recordOutcome(ctx, observability.OutcomeRetried)
		logger.Warn("Compute failed, retrying", "retryLimit", w.cfg.RetryLimit, "error", cause)
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrNotFound):
		w.recordOutcome(ctx, observability.OutcomeDiscarded)
		logger.Warn("Job was reset or deleted during compute", "error", err)
		return queue.Ack()
	default:
		w.recordOutcome(ctx, observability.OutcomeDeferred)
		logger.Error("Could not reset job for retry, requeueing", "error", err)
	}
	return w.requeueLater(ctx)
}

// requeueLater waits RetryDelay, then asks for a requeue.
func (w *Worker) requeueLater(ctx context.Context) queue.Decision {
	_ = backoff.Sleep(ctx, w.cfg.RetryDelay)
	return queue.Requeue()
}

// Stats returns current worker statistics.
func (w *Worker) Stats() Stats {
	return Stats{
		Claimed:   w.claimed.Load(),
		Done:      w.done.Load(),
		Retried:   w.retried.Load(),
		Failed:    w.failed.Load(),
		Discarded: w.discarded.Load(),
		Deferred:  w.deferred.Load(),
	}
}

func (w *Worker) recordClaim(ctx context.Context, outcome string) {
	if outcome == observability.ClaimClaimed {
		w.claimed.Add(1)
	}
	if w.metrics != nil {
		w.metrics.RecordClaim(ctx, outcome)
	}
}

func (w *Worker) recordOutcome(ctx context.Context, outcome string) {
	switch outcome {
	case observability.OutcomeDone:
		w.done.Add(1)
	case observability.OutcomeRetried:
		w.retried.Add(1)
	case observability.OutcomeFailed:
		w.failed.Add(1)
	case observability.OutcomeDiscarded:
		w.discarded.Add(1)
	case observability.OutcomeDeferred:
		w.deferred.Add(1)
	}
	if w.metrics != nil {
		w.metrics.RecordOutcome(ctx, outcome)
	}
}
