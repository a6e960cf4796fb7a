package testutil

import (
	"context"
	"simjobs/internal/apperrors"
	"simjobs/internal/job"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()
	fast := []WaitOption{WithTimeout(50 * time.Millisecond), WithInterval(time.Millisecond)}

	tests := []struct {
		name      string
		condition func() func() bool
		want      bool
	}{
		{"immediate", func() func() bool { return func() bool { return true } }, true},
		{"after a few polls", func() func() bool {
			polls := 0
			return func() bool { polls++; return polls >= 3 }
		}, true},
		{"never", func() func() bool { return func() bool { return false } }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := WaitFor(t, tt.condition(), fast...); got != tt.want {
				t.Errorf("WaitFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaitForCount(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64
	go func() {
		for range 5 {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		}
	}()

	MustWaitForCount(t, &counter, 5, WithTimeout(time.Second), WithInterval(time.Millisecond))
	if WaitForCount(t, &counter, 10, WithTimeout(20*time.Millisecond), WithInterval(time.Millisecond)) {
		t.Error("WaitForCount reached a target nothing increments towards")
	}
}

func TestWaitOptions(t *testing.T) {
	t.Parallel()
	opts := defaultOptions()
	if opts.Timeout != 10*time.Second || opts.Interval != 10*time.Millisecond {
		t.Errorf("defaultOptions() = %+v", opts)
	}

	WithTimeout(5 * time.Second)(&opts)
	WithInterval(50 * time.Millisecond)(&opts)
	if opts.Timeout != 5*time.Second || opts.Interval != 50*time.Millisecond {
		t.Errorf("options not applied: %+v", opts)
	}
}

type fakeJobs struct {
	reads atomic.Int64
}

func (f *fakeJobs) Get(_ context.Context, id, ownerID string) (*job.Job, error) {
	if ownerID != "alice" {
		return nil, apperrors.NotFound("job", id)
	}
	status := job.StatusRunning
	if f.reads.Add(1) >= 3 {
		status = job.StatusDone
	}
	return &job.Job{ID: id, OwnerID: ownerID, Status: status}, nil
}

func TestMustWaitForStatus(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{}

	got := MustWaitForStatus(t, jobs, "job-1", "alice", job.StatusDone, WithTimeout(time.Second), WithInterval(time.Millisecond))
	if got.Status != job.StatusDone || jobs.reads.Load() < 3 {
		t.Errorf("MustWaitForStatus() = %+v after %d reads", got, jobs.reads.Load())
	}
}

func TestClock(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start, time.Second)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("first Now() = %v, want %v", got, start)
	}
	if got := c.Now(); !got.Equal(start.Add(time.Second)) {
		t.Errorf("second Now() = %v, want start+1s", got)
	}
	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(start.Add(time.Hour + 2*time.Second)) {
		t.Errorf("Now() after Advance = %v", got)
	}
}
