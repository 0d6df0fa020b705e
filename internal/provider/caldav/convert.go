package caldav

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// propSourceID carries the internal event id on pushed VEVENTs.
const propSourceID = "X-CAREIQ-EVENT-ID"

const productID = "-//CareIQ//careiq-calsync//EN"

// toICal builds a single-event VCALENDAR. stamp becomes DTSTAMP.
func toICal(uid string, re model.RemoteEvent, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ev.Props.SetText(ical.PropSummary, re.Title)
	if re.AllDay {
		ev.Props.SetDate(ical.PropDateTimeStart, re.Start.UTC())
		ev.Props.SetDate(ical.PropDateTimeEnd, re.End.UTC())
	} else {
		ev.Props.SetDateTime(ical.PropDateTimeStart, re.Start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, re.End.UTC())
	}
	if re.Description != "" {
		ev.Props.SetText(ical.PropDescription, re.Description)
	}
	if re.Location != "" {
		ev.Props.SetText(ical.PropLocation, re.Location)
	}
	transp := "OPAQUE"
	if re.ShowAs == model.ShowFree {
		transp = "TRANSPARENT"
	}
	ev.Props.SetText(ical.PropTransparency, transp)
	if re.SourceID != "" {
		prop := ical.NewProp(propSourceID)
		prop.Value = re.SourceID
		ev.Props.Set(prop)
	}

	cal.Children = append(cal.Children, ev.Component)
	return cal
}

// fromICal converts every VEVENT of an object stored at path. Recurrence
// overrides (RECURRENCE-ID) are skipped; only master events are synced.
func fromICal(path string, cal *ical.Calendar) ([]model.RemoteEvent, error) {
	var out []model.RemoteEvent
	for _, ev := range cal.Events() {
		if ev.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		re, err := fromVEvent(path, ev)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func fromVEvent(path string, ev ical.Event) (model.RemoteEvent, error) {
	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("event %s DTSTART: %w", path, err)
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("event %s DTEND: %w", path, err)
	}

	re := model.RemoteEvent{
		ID:     path,
		Start:  start.UTC(),
		End:    end.UTC(),
		ShowAs: model.ShowBusy,
	}
	if prop := ev.Props.Get(ical.PropDateTimeStart); prop != nil && prop.ValueType() == ical.ValueDate {
		re.AllDay = true
	}
	re.Title, _ = ev.Props.Text(ical.PropSummary)
	re.Description, _ = ev.Props.Text(ical.PropDescription)
	re.Location, _ = ev.Props.Text(ical.PropLocation)
	if transp, _ := ev.Props.Text(ical.PropTransparency); transp == "TRANSPARENT" {
		re.ShowAs = model.ShowFree
	}
	if prop := ev.Props.Get(propSourceID); prop != nil {
		re.SourceID = prop.Value
	}
	if mod, err := ev.Props.DateTime(ical.PropLastModified, time.UTC); err == nil && !mod.IsZero() {
		re.UpdatedAt = mod.UTC()
	}
	if uid, err := ev.Props.Text(ical.PropUID); err == nil && uid != "" {
		re.Metadata = map[string]string{"uid": uid}
	}
	return re, nil
}
