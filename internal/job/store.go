// Package job defines the job model, its state machine and the Store contract.
package job

import (
	"context"
	"time"
)

// Store is the durable record of job state and the single source of truth for it.
//
// # Transitions
//
// Transition is the only way a job's status changes. Implementations must apply it
// as one conditional update ("... WHERE id = ? AND status = from") so that any
// number of racing workers see exactly one winner:
//
//   - Submitted -> Running claims the job and increments Attempts
//   - Running -> Done stores the result
//   - Running -> Submitted returns the job for another attempt
//   - Running -> Failed ends it
//
// A job whose current status differs from `from` is left untouched and the call
// fails with apperrors.ErrConflict.
//
// # Errors
//
// Lookups of unknown ids, and of ids owned by someone else, fail with
// apperrors.ErrNotFound. Backend failures are reported as apperrors.ErrUnavailable
// and never leave a partial write behind.
type Store interface {
	// Create inserts a new Submitted job owned by ownerID.
	Create(ctx context.Context, ownerID string, params Parameters) (*Job, error)

	// Get returns a job visible to ownerID.
	Get(ctx context.Context, id, ownerID string) (*Job, error)

	// List returns all jobs of ownerID, newest first.
	List(ctx context.Context, ownerID string) ([]Job, error)

	// Transition atomically moves a job from one status to another.
	// result must be non-empty when to is Done and nil otherwise.
	Transition(ctx context.Context, id string, from, to Status, result Result) (*Job, error)

	// Delete removes a job owned by ownerID, in any status.
	Delete(ctx context.Context, id, ownerID string) error

	// Touch stamps updated_at on a job that is still in status and was last
	// updated before olderThan. Only one of several concurrent callers wins;
	// the others see Conflict. The sweep uses it to record a re-publish.
	Touch(ctx context.Context, id string, status Status, olderThan time.Time) (*Job, error)

	// Release hands a Running job back to Submitted and returns its claim: the
	// attempt counter goes down by one, so the attempt is not charged against the
	// retry budget. A non-zero olderThan restricts it to jobs last updated before then.
	Release(ctx context.Context, id string, olderThan time.Time) (*Job, error)

	// ListStale returns up to limit jobs in status whose last update is before
	// olderThan, oldest first. It is not owner scoped; only reconciliation uses it.
	ListStale(ctx context.Context, status Status, olderThan time.Time, limit int) ([]Job, error)

	// Ready checks that the backend is reachable.
	Ready(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
