package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the state of a SyncLog row.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunError      RunStatus = "error"
)

// Counts aggregates the per-event outcomes of a run.
type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Deleted += other.Deleted
	c.Failed += other.Failed
}

// AllFailed reports whether events were attempted and none succeeded.
func (c Counts) AllFailed() bool {
	return c.Processed > 0 && c.Failed == c.Processed
}

// SyncLog is the durable audit record of one sync run. It is created
// in_progress at run start and finalized exactly once.
type SyncLog struct {
	ID            uuid.UUID `json:"id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	RunType       RunType   `json:"run_type"`
	Direction     Direction `json:"direction"`
	Status        RunStatus `json:"status"`
	Counts
	DurationMs   int64      `json:"duration_ms"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// SyncRunResult is returned to the caller that triggered a run.
type SyncRunResult struct {
	LogID uuid.UUID `json:"log_id"`
	Counts
	DurationMs int64     `json:"duration_ms"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// SyncStatus is the status view of an integration.
type SyncStatus struct {
	IntegrationID  uuid.UUID         `json:"integration_id"`
	Provider       Provider          `json:"provider"`
	IsActive       bool              `json:"is_active"`
	SyncEnabled    bool              `json:"sync_enabled"`
	LastSyncAt     *time.Time        `json:"last_sync_at,omitempty"`
	LastSyncStatus IntegrationStatus `json:"last_sync_status"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	RecentRuns     []SyncLog         `json:"recent_runs"`
}
