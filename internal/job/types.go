package job

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

// Status values. The string forms are persisted and exposed over the API.
const (
	StatusSubmitted Status = "Submitted"
	StatusRunning   Status = "Running"
	StatusDone      Status = "Done"
	StatusFailed    Status = "Failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusRunning, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Result is the opaque record produced by a ResultSink. Only Done jobs carry one.
type Result = json.RawMessage

// Job is one queued simulation with its own parameter snapshot.
type Job struct {
	ID         string     `json:"id" db:"id"`
	OwnerID    string     `json:"ownerId" db:"owner_id"`
	Parameters Parameters `json:"parameters" db:"-"`
	Status     Status     `json:"status" db:"status"`
	Result     Result     `json:"result,omitempty" db:"-"`
	Attempts   int        `json:"attempts" db:"attempts"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy so callers never share parameter or result memory.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Parameters = j.Parameters.Clone()
	if j.Result != nil {
		c.Result = append(Result(nil), j.Result...)
	}
	return &c
}

// BatchRequest is the body of a batch submission.
type BatchRequest struct {
	Template Parameters `json:"template"`
	Count    int        `json:"count"`
}

// ListResponse is returned when listing jobs.
type ListResponse struct {
	Jobs []Job `json:"jobs"`
}

// ResultResponse is returned for a Done job's result.
type ResultResponse struct {
	ID     string `json:"id"`
	Result Result `json:"result"`
}
