package job

import (
	"errors"
	"simjobs/internal/apperrors"
	"testing"
)

func TestCheckTransition(t *testing.T) {
	t.Parallel()
	result := Result(`{"ok":true}`)

	tests := []struct {
		name    string
		from    Status
		to      Status
		result  Result
		wantErr bool
	}{
		{"claim", StatusSubmitted, StatusRunning, nil, false},
		{"complete", StatusRunning, StatusDone, result, false},
		{"retry", StatusRunning, StatusSubmitted, nil, false},
		{"fail", StatusRunning, StatusFailed, nil, false},
		{"done without result", StatusRunning, StatusDone, nil, true},
		{"done with empty result", StatusRunning, StatusDone, Result{}, true},
		{"running with result", StatusSubmitted, StatusRunning, result, true},
		{"failed with result", StatusRunning, StatusFailed, result, true},
		{"skip running", StatusSubmitted, StatusDone, result, true},
		{"leave done", StatusDone, StatusSubmitted, nil, true},
		{"leave failed", StatusFailed, StatusRunning, nil, true},
		{"self loop", StatusRunning, StatusRunning, nil, true},
		{"unknown", Status("Paused"), StatusRunning, nil, true},
	}

	for _, tt := range tests {
		err := CheckTransition(tt.from, tt.to, tt.result)
		if tt.wantErr {
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("%s: expected validation error, got %v", tt.name, err)
			}
		} else if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		}
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	for _, s := range []Status{StatusSubmitted, StatusRunning, StatusDone, StatusFailed} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error("statuses are case sensitive")
	}
	if StatusRunning.Terminal() || StatusSubmitted.Terminal() {
		t.Error("Submitted and Running are not terminal")
	}
	if !StatusDone.Terminal() || !StatusFailed.Terminal() {
		t.Error("Done and Failed are terminal")
	}
}

func TestCheckTransition_TerminalStatus(t *testing.T) {
	t.Parallel()
	for _, from := range []Status{StatusDone, StatusFailed} {
		err := CheckTransition(from, StatusSubmitted, nil)
		want := "a " + string(from) + " job cannot change status"
		if err == nil || err.Error() != want {
			t.Errorf("CheckTransition(%s) = %v, want %q", from, err, want)
		}
	}
}

func TestTransitionConflict(t *testing.T) {
	t.Parallel()
	err := TransitionConflict("j1", StatusSubmitted, StatusRunning)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Expected conflict, got %v", err)
	}
	if err.Error() != "job j1 is Running, not Submitted" {
		t.Errorf("Unexpected message: %q", err.Error())
	}
}

func TestJob_Clone(t *testing.T) {
	t.Parallel()
	z := 3
	j := &Job{ID: "a", Parameters: Parameters{Z: &z}, Result: Result(`{}`)}

	c := j.Clone()
	*c.Parameters.Z = 9
	c.Result[0] = '['

	if *j.Parameters.Z != 3 || string(j.Result) != `{}` {
		t.Error("Clone shares memory with the original")
	}
	if (*Job)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
