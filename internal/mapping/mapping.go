// Package mapping translates between internal calendar events and the
// provider-neutral [model.RemoteEvent]. The functions are pure: no I/O and
// no clock reads.
package mapping

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// ToRemote converts an internal event to the shape sent to a provider. The
// event's id travels as SourceID so that a remote copy can be traced back to
// its origin.
func ToRemote(ev *model.CalendarEvent) model.RemoteEvent {
	start, end := normalizeRange(ev.StartTime, ev.EndTime, ev.AllDay)
	return model.RemoteEvent{
		ID:          ev.ExternalID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start,
		End:         end,
		AllDay:      ev.AllDay,
		ShowAs:      normalizeShowAs(ev.ShowAs),
		SourceID:    ev.ID.String(),
		Metadata:    maps.Clone(ev.Metadata),
	}
}

// ToInternal converts a provider event into an internal event owned by
// ownerID. When the remote event carries a well-formed SourceID the internal
// id is taken from it; otherwise the id is left nil for the store to assign.
// ExternalID is set from the remote id; the caller sets ExternalProvider and
// sync state.
func ToInternal(re model.RemoteEvent, ownerID uuid.UUID, calendarTypeID string) *model.CalendarEvent {
	start, end := normalizeRange(re.Start, re.End, re.AllDay)
	ev := &model.CalendarEvent{
		UserID:         ownerID,
		CalendarTypeID: calendarTypeID,
		Title:          strings.TrimSpace(re.Title),
		Description:    re.Description,
		Location:       re.Location,
		StartTime:      start,
		EndTime:        end,
		AllDay:         re.AllDay,
		ShowAs:         normalizeShowAs(re.ShowAs),
		ExternalID:     re.ID,
		Metadata:       maps.Clone(re.Metadata),
	}
	if id, err := uuid.Parse(re.SourceID); err == nil {
		ev.ID = id
	}
	if ev.Title == "" {
		ev.Title = "(no title)"
	}
	return ev
}

// normalizeRange converts both instants to UTC. All-day ranges are truncated
// to whole UTC days, and an all-day range always spans at least one day.
// A missing or inverted end collapses to the start.
func normalizeRange(start, end time.Time, allDay bool) (time.Time, time.Time) {
	start, end = start.UTC(), end.UTC()
	if allDay {
		start = truncateDay(start)
		end = truncateDay(end)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		return start, end
	}
	if end.Before(start) {
		end = start
	}
	return start, end
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizeShowAs(s string) string {
	if s == model.ShowFree {
		return model.ShowFree
	}
	return model.ShowBusy
}
