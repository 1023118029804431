package model

import "time"

// Sync run statuses. A run is created running and moves exactly once to
// completed or failed.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunCounters aggregates per-event outcomes of one pipeline execution.
type RunCounters struct {
	EventsFound     int `json:"events_found"`
	EventsProcessed int `json:"events_processed"`
	EventsSkipped   int `json:"events_skipped"`
	EventsFailed    int `json:"events_failed"`
}

// SyncRun is the provenance record for one pipeline execution.
type SyncRun struct {
	ID           int64             `json:"id"`
	JobName      string            `json:"job_name"`
	Source       string            `json:"source"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Status       string            `json:"status"`
	StartBlock   uint64            `json:"start_block"`
	EndBlock     uint64            `json:"end_block"`
	Counters     RunCounters       `json:"counters"`
	DurationMs   int64             `json:"duration_ms"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
