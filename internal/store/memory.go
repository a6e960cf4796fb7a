package store

import (
	"context"
	"simjobs/internal/apperrors"
	"simjobs/internal/auth"
	"simjobs/internal/job"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Backend. Every value crossing its boundary is copied.
type Memory struct {
	mu       sync.Mutex
	jobs     map[string]*job.Job
	users    map[string]*auth.User // by username
	now      func() time.Time
	newID    func() string
	readyErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		jobs:  make(map[string]*job.Job),
		users: make(map[string]*auth.User),
		now:   o.now,
		newID: o.newID,
	}
}

// SetUnavailable makes every subsequent call fail with apperrors.ErrUnavailable
// wrapping err, or restores normal operation when err is nil.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyErr = err
}

func (m *Memory) check(op string) error {
	if m.readyErr != nil {
		return apperrors.Unavailable(op, m.readyErr)
	}
	return nil
}

func (m *Memory) Create(ctx context.Context, ownerID string, params job.Parameters) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.create"); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	j := &job.Job{
		ID:         m.newID(),
		OwnerID:    ownerID,
		Parameters: params.Clone(),
		Status:     job.StatusSubmitted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, exists := m.jobs[j.ID]; exists {
		return nil, apperrors.Conflict("job", j.ID, "job "+j.ID+" already exists")
	}
	m.jobs[j.ID] = j
	return j.Clone(), nil
}

func (m *Memory) Get(ctx context.Context, id, ownerID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.get"); err != nil {
		return nil, err
	}
	j, ok := m.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, apperrors.NotFound("job", id)
	}
	return j.Clone(), nil
}

func (m *Memory) List(ctx context.Context, ownerID string) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.list"); err != nil {
		return nil, err
	}
	jobs := make([]job.Job, 0)
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			jobs = append(jobs, *j.Clone())
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID > jobs[b].ID
	})
	return jobs, nil
}

func (m *Memory) Transition(ctx context.Context, id string, from, to job.Status, result job.Result) (*job.Job, error) {
	if err := job.CheckTransition(from, to, result); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.transition"); err != nil {
		return nil, err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	if j.Status != from {
		return nil, job.TransitionConflict(id, from, j.Status)
	}
	j.Status = to
	j.Result = nil
	if to == job.StatusDone {
		j.Result = append(job.Result(nil), result...)
	}
	if to == job.StatusRunning {
		j.Attempts++
	}
	j.UpdatedAt = m.now().UTC()
	return j.Clone(), nil
}

func (m *Memory) Touch(ctx context.Context, id string, status job.Status, olderThan time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.guarded("store.touch", id, status, olderThan)
	if err != nil {
		return nil, err
	}
	j.UpdatedAt = m.now().UTC()
	return j.Clone(), nil
}

func (m *Memory) Release(ctx context.Context, id string, olderThan time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.guarded("store.release", id, job.StatusRunning, olderThan)
	if err != nil {
		return nil, err
	}
	j.Status = job.StatusSubmitted
	j.Attempts = max(j.Attempts-1, 0)
	j.UpdatedAt = m.now().UTC()
	return j.Clone(), nil
}

// guarded returns the live record of a job in status last updated before
// olderThan (any time when olderThan is zero). Callers hold m.mu.
func (m *Memory) guarded(op, id string, status job.Status, olderThan time.Time) (*job.Job, error) {
	if err := m.check(op); err != nil {
		return nil, err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	if j.Status != status {
		return nil, job.TransitionConflict(id, status, j.Status)
	}
	if !olderThan.IsZero() && !j.UpdatedAt.Before(olderThan) {
		return nil, job.StaleConflict(id, status)
	}
	return j, nil
}

func (m *Memory) Delete(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.delete"); err != nil {
		return err
	}
	j, ok := m.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return apperrors.NotFound("job", id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) ListStale(ctx context.Context, status job.Status, olderThan time.Time, limit int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.list_stale"); err != nil {
		return nil, err
	}
	jobs := make([]job.Job, 0)
	for _, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(olderThan) {
			jobs = append(jobs, *j.Clone())
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].UpdatedAt.Equal(jobs[b].UpdatedAt) {
			return jobs[a].UpdatedAt.Before(jobs[b].UpdatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.create_user"); err != nil {
		return nil, err
	}
	if _, exists := m.users[username]; exists {
		return nil, apperrors.Conflict("user", username, "username already taken")
	}
	u := &auth.User{
		ID:           m.newID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    m.now().UTC(),
	}
	m.users[username] = u
	c := *u
	return &c, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("store.get_user"); err != nil {
		return nil, err
	}
	u, ok := m.users[username]
	if !ok {
		return nil, apperrors.NotFound("user", username)
	}
	c := *u
	return &c, nil
}

func (m *Memory) Ready(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check("store.ping")
}

func (m *Memory) Close() error {
	return nil
}
