// Package dispatcher turns a batch request into jobs and their queue messages.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"simjobs/internal/apperrors"
	"simjobs/internal/job"
	"simjobs/internal/observability"
	"simjobs/internal/queue"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordBatchSubmitted(ctx context.Context, requested, created int)
	RecordPublish(ctx context.Context, success bool)
}

// Stats holds dispatcher statistics.
type Stats struct {
	Batches       int64 // accepted batch requests
	Created       int64 // jobs created
	Published     int64 // messages confirmed by the queue
	PublishFailed int64 // messages that could not be published
	Redispatched  int64 // messages re-sent for existing jobs
}

// Dispatcher creates jobs in the store and publishes one message per job.
type Dispatcher struct {
	store   job.Store
	queue   queue.Publisher
	cfg     Config
	logger  *slog.Logger
	metrics MetricsRecorder
	newSeed func() int64

	batches       atomic.Int64
	created       atomic.Int64
	published     atomic.Int64
	publishFailed atomic.Int64
	redispatched  atomic.Int64
}

// New creates a dispatcher. metrics may be nil.
func New(store job.Store, pub queue.Publisher, cfg Config, metrics MetricsRecorder) *Dispatcher {
	return &Dispatcher{
		store:   store,
		queue:   pub,
		cfg:     cfg.withDefaults(),
		logger:  slog.With("component", "dispatcher"),
		metrics: metrics,
		newSeed: func() int64 { return rand.Int64N(math.MaxInt64-1) + 1 },
	}
}

// SubmitBatch validates template and count, then creates count independent jobs
// owned by ownerID, publishing each one right after it is stored.
//
// Nothing is created when validation fails. When a publish fails the batch stops
// with apperrors.ErrUnavailable; the job whose message was lost stays Submitted
// and is picked up by reconciliation.
func (d *Dispatcher) SubmitBatch(ctx context.Context, ownerID string, template job.Parameters, count int) ([]job.Job, error) {
	if count < 1 || count > d.cfg.MaxBatchSize {
		return nil, apperrors.Validation("count", fmt.Sprintf("count must be between 1 and %d", d.cfg.MaxBatchSize))
	}
	tmpl := template.Normalize()
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	// Job i gets Seed+i; none of them may wrap around or land on 0 ("unassigned").
	if maxSeed := math.MaxInt64 - int64(count-1); tmpl.Seed < 0 || tmpl.Seed > maxSeed {
		return nil, apperrors.Validation("seed", fmt.Sprintf("seed must be between 1 and %d for a batch of %d", maxSeed, count))
	}

	ctx, span := observability.StartSpan(ctx, "dispatcher.SubmitBatch",
		attribute.String("owner.id", ownerID),
		attribute.Int("batch.count", count),
	)
	defer span.End()

	d.batches.Add(1)
	logger := d.logger.With("ownerId", ownerID, "count", count)

	jobs := make([]job.Job, 0, count)
	defer func() {
		if d.metrics != nil {
			d.metrics.RecordBatchSubmitted(ctx, count, len(jobs))
		}
	}()

	for i := range count {
		params := tmpl.Clone()
		if tmpl.Seed == 0 {
			params.Seed = d.newSeed()
		} else {
			// Reproducible batch, distinct draws per job.
			params.Seed = tmpl.Seed + int64(i)
		}

		j, err := d.store.Create(ctx, ownerID, params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create failed")
			logger.Error("Job creation failed", "created", len(jobs), "error", err)
			return nil, err
		}
		d.created.Add(1)

		if err := d.publish(ctx, j); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")
			logger.Error("Batch aborted, job left for reconciliation",
				"jobId", j.ID, "created", len(jobs)+1, "error", err)
			return nil, err
		}
		jobs = append(jobs, *j)
	}

	logger.Info("Batch submitted", "jobs", len(jobs))
	return jobs, nil
}

// MaxBatchSize returns the largest count SubmitBatch accepts.
func (d *Dispatcher) MaxBatchSize() int {
	return d.cfg.MaxBatchSize
}

// Redispatch publishes a fresh message for an existing Submitted job.
func (d *Dispatcher) Redispatch(ctx context.Context, j *job.Job) error {
	if err := d.publish(ctx, j); err != nil {
		return err
	}
	d.redispatched.Add(1)
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, j *job.Job) error {
	err := d.queue.Publish(ctx, queue.Message{JobID: j.ID, Parameters: j.Parameters})
	if d.metrics != nil {
		d.metrics.RecordPublish(ctx, err == nil)
	}
	if err != nil {
		d.publishFailed.Add(1)
		return err
	}
	d.published.Add(1)
	return nil
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Batches:       d.batches.Load(),
		Created:       d.created.Load(),
		Published:     d.published.Load(),
		PublishFailed: d.publishFailed.Load(),
		Redispatched:  d.redispatched.Load(),
	}
}
