// Package testutil provides polling helpers and fakes shared by package tests.
package testutil

import (
	"context"
	"simjobs/internal/job"
	"sync/atomic"
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func defaultOptions() WaitOptions {
	return WaitOptions{
		Timeout:  10 * time.Second,
		Interval: 10 * time.Millisecond,
	}
}

// WaitFor polls until condition returns true or timeout is reached.
// Returns true if condition was met, false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for {
		if condition() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(o.Interval)
	}
}

// WaitForCount polls until counter reaches the target value or timeout is reached.
func WaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool {
		return counter.Load() >= target
	}, opts...)
}

// MustWaitFor polls until condition returns true or fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForCount polls until counter reaches the target value or fails the test on timeout.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	if !WaitForCount(tb, counter, target, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}

// JobGetter is the part of job.Store the job waiters read through.
type JobGetter interface {
	Get(ctx context.Context, id, ownerID string) (*job.Job, error)
}

// MustWaitForStatus polls until the job reaches want and returns it, or fails the
// test with the last observed status.
func MustWaitForStatus(tb testing.TB, store JobGetter, id, ownerID string, want job.Status, opts ...WaitOption) *job.Job {
	tb.Helper()
	var last *job.Job
	var lastErr error
	ok := WaitFor(tb, func() bool {
		last, lastErr = store.Get(context.Background(), id, ownerID)
		return lastErr == nil && last.Status == want
	}, opts...)
	if !ok {
		if lastErr != nil {
			tb.Fatalf("job %s never reached %s: %v", id, want, lastErr)
		}
		tb.Fatalf("job %s never reached %s (last status %s, attempts %d)", id, want, last.Status, last.Attempts)
	}
	return last
}
