package domain

import (
	"errors"
	"time"
)

// JobState is the live state of a scheduled job.
type JobState string

const (
	JobIdle    JobState = "idle"
	JobRunning JobState = "running"
)

// JobStatus is the outcome of the latest execution attempt.
type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
	JobSkipped JobStatus = "skipped"
)

// JobRun tracks one registered job across executions.
type JobRun struct {
	JobID       string    `json:"job_id"`
	Trigger     string    `json:"trigger"`
	State       JobState  `json:"state"`
	LastRunID   string    `json:"last_run_id,omitempty"`
	LastRunTime time.Time `json:"last_run_time,omitempty"`
	LastStatus  JobStatus `json:"last_status,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextRunTime time.Time `json:"next_run_time,omitempty"`
	RetryCount  int       `json:"retry_count"`
	Runs        int       `json:"runs"`
	Skips       int       `json:"skips"`
}

// ErrJobSkipped marks a job execution that had nothing to do.
var ErrJobSkipped = errors.New("job skipped")
