package model

import (
	"time"

	"github.com/google/uuid"
)

// EventSyncStatus tracks an internal event's state against its provider.
type EventSyncStatus string

const (
	EventPending EventSyncStatus = "pending"
	EventSynced  EventSyncStatus = "synced"
	EventError   EventSyncStatus = "error"
)

// Availability values carried in the free/busy field.
const (
	ShowBusy = "busy"
	ShowFree = "free"
)

// CalendarEvent is a schedulable item owned by the application (care plans,
// compliance deadlines, survey preparation and so on).
type CalendarEvent struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	CalendarTypeID string

	Title       string
	Description string
	Location    string
	StartTime   time.Time // UTC
	EndTime     time.Time // UTC
	AllDay      bool
	ShowAs      string // ShowBusy or ShowFree

	// ExternalProvider and ExternalID are set once the event exists remotely.
	// Together they are the durable join key: an event carrying an ExternalID
	// for a provider is only ever pushed there as an update.
	ExternalProvider Provider
	ExternalID       string

	SyncStatus   EventSyncStatus
	SyncError    string
	LastSyncedAt *time.Time

	// Metadata holds provider-specific fields that are carried opaquely.
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LinkedTo reports whether the event already has a remote counterpart at p.
func (e *CalendarEvent) LinkedTo(p Provider) bool {
	return e.ExternalID != "" && e.ExternalProvider == p
}

// TimeRange is a half-open [Start, End) window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// PullWindow returns the bounded window queried during pull: one month in
// the past through six months in the future.
func PullWindow(now time.Time) TimeRange {
	now = now.UTC()
	return TimeRange{Start: now.AddDate(0, -1, 0), End: now.AddDate(0, 6, 0)}
}

// RemoteEvent is the provider-neutral shape exchanged with the provider
// facades. Each provider package converts it to and from its wire format.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	ShowAs      string

	// SourceID is the internal event id this remote event was pushed from,
	// empty for events authored at the provider.
	SourceID string

	UpdatedAt time.Time
	Metadata  map[string]string
}
