package models

import "time"

// Run statuses.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	Rewriter   string     `json:"rewriter,omitempty"`
	Accepted   int        `json:"accepted"`
	Rejected   int        `json:"rejected"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type AcceptedRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Text        string    `json:"text"`
	Seed        string    `json:"seed,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Payload     string    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

type Rejection struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Text      string    `json:"text"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}
