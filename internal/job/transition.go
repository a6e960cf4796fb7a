package job

import (
	"fmt"
	"simjobs/internal/apperrors"
)

// transitions lists the only edges Store.Transition accepts.
var transitions = map[Status][]Status{
	StatusSubmitted: {StatusRunning},
	StatusRunning:   {StatusDone, StatusSubmitted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition validates a transition request before it reaches a store.
// A result accompanies Done and nothing else.
func CheckTransition(from, to Status, result Result) error {
	if from.Terminal() {
		return apperrors.Validation("status", fmt.Sprintf("a %s job cannot change status", from))
	}
	if !CanTransition(from, to) {
		return apperrors.Validation("status", fmt.Sprintf("transition %s -> %s is not allowed", from, to))
	}
	if to == StatusDone && len(result) == 0 {
		return apperrors.Validation("result", "a Done job requires a result")
	}
	if to != StatusDone && result != nil {
		return apperrors.Validation("result", fmt.Sprintf("a %s job cannot carry a result", to))
	}
	return nil
}

// TransitionConflict builds the error returned when a job is not in the expected status.
func TransitionConflict(id string, from, current Status) error {
	return apperrors.Conflict("job", id, fmt.Sprintf("job %s is %s, not %s", id, current, from))
}

// StaleConflict builds the error returned when a job is in the expected status
// but was updated after the caller's cutoff.
func StaleConflict(id string, status Status) error {
	return apperrors.Conflict("job", id, fmt.Sprintf("job %s is %s but was updated recently", id, status))
}
