package models

import "time"

// StatusTransition is one audit row in a job's status history.
// Every status change appends exactly one row; the sequence for a job
// reconstructs its full lifecycle.
type StatusTransition struct {
	ID     uint64    `json:"id" badgerhold:"key"` // Auto-incremented by badgerhold
	JobID  string    `json:"job_id" badgerhold:"index"`
	From   JobStatus `json:"from"` // Empty for the initial enqueue row
	To     JobStatus `json:"to"`
	Reason string    `json:"reason,omitempty"`
	Actor  string    `json:"actor,omitempty"` // Worker name, operator, scheduler, cascade
	At     time.Time `json:"at"`
}

// JobLogEntry is a single captured log line for a collection job
type JobLogEntry struct {
	Timestamp string `json:"timestamp"` // Display format "15:04:05"
	FullTime  string `json:"full_time"` // RFC3339 for ordering
	Level     string `json:"level"`     // 3-letter code: INF, WRN, ERR, DBG
	Message   string `json:"message"`
}
