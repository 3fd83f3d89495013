// Package jobs tracks repository ingestion jobs from submission to completion.
package jobs

import (
	"errors"
	"time"
)

// ErrJobNotFound is returned when no job has the requested id.
var ErrJobNotFound = errors.New("job not found")

// State is a job's lifecycle position.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the job will not change state again.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is one ingestion of one repository.
type Job struct {
	ID             string     `json:"id"`
	Slug           string     `json:"repository"`
	URL            string     `json:"repo_url"`
	Branch         string     `json:"branch,omitempty"`
	ResolvedBranch string     `json:"resolved_branch,omitempty"`
	CommitSHA      string     `json:"commit_sha,omitempty"`
	WorkDir        string     `json:"workdir,omitempty"`
	State          State      `json:"state"`
	Error          string     `json:"error,omitempty"`
	Documents      int        `json:"documents"`
	Chunks         int        `json:"chunks"`
	FailedDocs     int        `json:"failed_documents"`
	Truncated      bool       `json:"truncated,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Duration is the run time of a started job, up to now if still running.
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(*j.StartedAt)
	}
	return now.Sub(*j.StartedAt)
}
