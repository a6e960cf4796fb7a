package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeDep struct {
	err   error
	calls atomic.Int32
}

func (f *fakeDep) Ready(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	response := checker.Liveness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness_NoDependencies(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	response := checker.Readiness(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy status, got %s", response.Status)
	}
	if _, ok := response.Checks["dependencies"]; !ok {
		t.Fatal("Expected dependencies check to be present")
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		storeErr   error
		queueErr   error
		wantStatus Status
		wantFailed string
	}{
		{"all healthy", nil, nil, StatusHealthy, ""},
		{"store down", errors.New("connection refused"), nil, StatusUnhealthy, "store"},
		{"queue down", nil, errors.New("broker unreachable"), StatusUnhealthy, "queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			checker := NewChecker(map[string]ReadinessChecker{
				"store": &fakeDep{err: tt.storeErr},
				"queue": &fakeDep{err: tt.queueErr},
			})

			response := checker.Readiness(context.Background())
			if response.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", response.Status, tt.wantStatus)
			}
			if len(response.Checks) != 2 {
				t.Errorf("Checks = %v, want store and queue", response.Checks)
			}
			if tt.wantFailed != "" {
				check := response.Checks[tt.wantFailed]
				if check.Status != StatusUnhealthy || check.Message == "" {
					t.Errorf("%s check = %+v, want unhealthy with message", tt.wantFailed, check)
				}
			}
		})
	}
}

func TestChecker_ReadinessIsCached(t *testing.T) {
	t.Parallel()
	dep := &fakeDep{}
	checker := NewChecker(map[string]ReadinessChecker{"store": dep})

	checker.Readiness(context.Background())
	checker.Readiness(context.Background())

	if got := dep.calls.Load(); got != 1 {
		t.Errorf("dependency checked %d times, want 1 within cache window", got)
	}
}

func TestChecker_SetShuttingDown(t *testing.T) {
	t.Parallel()
	checker := NewChecker(map[string]ReadinessChecker{"store": &fakeDep{}})

	if !checker.Readiness(context.Background()).IsHealthy() {
		t.Fatal("Expected ready before shutdown")
	}

	checker.SetShuttingDown()

	response := checker.Readiness(context.Background())
	if response.IsHealthy() {
		t.Error("Expected unready after SetShuttingDown")
	}
	if _, ok := response.Checks["shutdown"]; !ok {
		t.Error("Expected shutdown check to be present")
	}
}

func TestResponse_IsHealthy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"healthy", StatusHealthy, true},
		{"unhealthy", StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := &Response{Status: tt.status}
			if response.IsHealthy() != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", response.IsHealthy(), tt.expected)
			}
		})
	}
}
