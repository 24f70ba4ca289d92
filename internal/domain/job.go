package domain

import "time"

// JobStatus enumerates the job lifecycle states.
// Transitions form a DAG: pending -> running -> {completed, failed, cancelled}.
// Terminal states are sticky.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// FailedItem records a per-file failure captured during a bulk run.
type FailedItem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Progress is the observable progress of a bulk job. Readers always see
// monotonically non-regressing Current.
type Progress struct {
	Current         int          `json:"current"`
	Total           int          `json:"total"`
	CurrentItem     string       `json:"current_item,omitempty"`
	ProcessedOK     int          `json:"processed_ok"`
	ProcessedFailed int          `json:"processed_failed"`
	FailedItems     []FailedItem `json:"failed_items,omitempty"`
}

// JobRecord is a snapshot of one asynchronous job.
type JobRecord struct {
	JobID      string     `json:"job_id"`
	Op         string     `json:"op"`
	Collection string     `json:"collection"`
	Status     JobStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Progress   Progress   `json:"progress"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}
