package model

import "time"

// RunStatus represents the current state of an ingest run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one invocation of the scrape job for a period.
type Run struct {
	ID         string     `db:"id" json:"id"`
	Period     string     `db:"period" json:"period"`
	Status     RunStatus  `db:"status" json:"status"`
	Attempts   int        `db:"attempts" json:"attempts"`
	Managers   int        `db:"managers" json:"managers"`
	Creators   int        `db:"creators" json:"creators"`
	Error      string     `db:"error" json:"error,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// RunResult summarizes a finished run.
type RunResult struct {
	Attempts int    `json:"attempts"`
	Managers int    `json:"managers"`
	Creators int    `json:"creators"`
	Error    string `json:"error,omitempty"`
}
