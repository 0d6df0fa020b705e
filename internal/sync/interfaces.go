// Package sync implements the calendar sync orchestrator. One [Orchestrator]
// call drives one sync run for one integration: it acquires the
// per-integration run slot, ensures a usable credential, pushes pending
// internal events, pulls remote events inside a bounded window and finalizes
// the run's audit log exactly once.
//
// Conflict policy: remote wins on pull. A pulled event overwrites the linked
// internal event, including local edits made since the last run. When a run
// both pushes and pulls, a linked event whose remote copy changed after its
// last sync is not pushed; the pull overwrites it instead. Internally
// authored events are never overwritten by their own echo because events
// pushed in a run are skipped by that run's pull.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// CredentialStore reads and updates integration records.
// Implemented by [state.Store].
type CredentialStore interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (*model.CalendarIntegration, error)
	UpdateIntegration(ctx context.Context, id uuid.UUID, upd model.IntegrationUpdate) error
}

// EventStore reads and updates internal calendar events.
// Implemented by [state.Store].
type EventStore interface {
	ListPendingPush(ctx context.Context, userID uuid.UUID, provider model.Provider) ([]*model.CalendarEvent, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*model.CalendarEvent, error)
	GetEventByExternalID(ctx context.Context, userID uuid.UUID, provider model.Provider, externalID string) (*model.CalendarEvent, error)
	UpsertFromPull(ctx context.Context, ev *model.CalendarEvent) (created bool, err error)
	MarkSynced(ctx context.Context, id uuid.UUID, provider model.Provider, externalID string, at time.Time) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	DeleteEvent(ctx context.Context, id uuid.UUID) error
}

// LogStore records sync runs.
// Implemented by [state.Store].
type LogStore interface {
	BeginRun(ctx context.Context, log *model.SyncLog) error
	FinishRun(ctx context.Context, log *model.SyncLog) error
	RecentRuns(ctx context.Context, integrationID uuid.UUID, limit int) ([]model.SyncLog, error)
}

// Store is the full persistence surface the orchestrator needs.
type Store interface {
	CredentialStore
	EventStore
	LogStore
}
