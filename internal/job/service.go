package job

import (
	"context"
	"log/slog"
	"simjobs/internal/apperrors"
)

// Service is the owner-scoped read and delete surface over a Store.
//
// The Service is stateless - all job state lives in the Store. Submission goes
// through the dispatcher so that every created job also gets a queue message.
type Service struct {
	store Store
}

// NewService creates a new job service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns a job owned by ownerID.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Job, error) {
	return s.store.Get(ctx, id, ownerID)
}

// List returns all jobs owned by ownerID, newest first.
func (s *Service) List(ctx context.Context, ownerID string) (*ListResponse, error) {
	jobs, err := s.store.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return &ListResponse{Jobs: jobs}, nil
}

// Delete removes a job owned by ownerID regardless of its status.
// Deleting an id twice yields the same NotFound as deleting one that never existed.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	logger := slog.With("jobId", id, "ownerId", ownerID)
	if err := s.store.Delete(ctx, id, ownerID); err != nil {
		logger.Warn("Job deletion failed", "error", err)
		return err
	}
	logger.Info("Job deleted")
	return nil
}

// Result returns the result of a Done job. Jobs in any other status fail with
// apperrors.ErrInvalidState.
func (s *Service) Result(ctx context.Context, id, ownerID string) (*ResultResponse, error) {
	j, err := s.store.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusDone {
		return nil, apperrors.InvalidState("job", id, "job "+id+" is "+string(j.Status)+", result is only available once Done")
	}
	return &ResultResponse{ID: j.ID, Result: j.Result}, nil
}
