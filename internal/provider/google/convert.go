package google

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// sourceKey is the private extended property carrying the internal event id.
const sourceKey = "careiq_event_id"

const dateLayout = "2006-01-02"

// toGoogle converts a neutral event to the Calendar v3 resource.
func toGoogle(re model.RemoteEvent) *calendar.Event {
	ev := &calendar.Event{
		Summary:      re.Title,
		Description:  re.Description,
		Location:     re.Location,
		Transparency: "opaque",
	}
	if re.ShowAs == model.ShowFree {
		ev.Transparency = "transparent"
	}
	if re.AllDay {
		ev.Start = &calendar.EventDateTime{Date: re.Start.UTC().Format(dateLayout)}
		ev.End = &calendar.EventDateTime{Date: re.End.UTC().Format(dateLayout)}
	} else {
		ev.Start = &calendar.EventDateTime{DateTime: re.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"}
		ev.End = &calendar.EventDateTime{DateTime: re.End.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}
	if re.SourceID != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{sourceKey: re.SourceID},
		}
	}
	if c := re.Metadata["color_id"]; c != "" {
		ev.ColorId = c
	}
	return ev
}

// fromGoogle converts a Calendar v3 resource to the neutral form.
func fromGoogle(ev *calendar.Event) (model.RemoteEvent, error) {
	re := model.RemoteEvent{
		ID:          ev.Id,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		ShowAs:      model.ShowBusy,
	}
	if ev.Transparency == "transparent" {
		re.ShowAs = model.ShowFree
	}

	start, allDay, err := parseEventTime(ev.Start)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	end, _, err := parseEventTime(ev.End)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("event %s end: %w", ev.Id, err)
	}
	re.Start, re.End, re.AllDay = start, end, allDay

	if ev.ExtendedProperties != nil {
		re.SourceID = ev.ExtendedProperties.Private[sourceKey]
	}
	if ev.Updated != "" {
		if t, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
			re.UpdatedAt = t.UTC()
		}
	}

	meta := map[string]string{}
	if ev.HtmlLink != "" {
		meta["html_link"] = ev.HtmlLink
	}
	if ev.Etag != "" {
		meta["etag"] = ev.Etag
	}
	if ev.ColorId != "" {
		meta["color_id"] = ev.ColorId
	}
	if len(meta) > 0 {
		re.Metadata = meta
	}
	return re, nil
}

func parseEventTime(dt *calendar.EventDateTime) (t time.Time, allDay bool, err error) {
	if dt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if dt.DateTime != "" {
		t, err = time.Parse(time.RFC3339, dt.DateTime)
		return t.UTC(), false, err
	}
	if dt.Date != "" {
		t, err = time.ParseInLocation(dateLayout, dt.Date, time.UTC)
		return t, true, err
	}
	return time.Time{}, false, fmt.Errorf("neither date nor dateTime set")
}
