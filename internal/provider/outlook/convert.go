package outlook

import (
	"fmt"
	"time"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// graphTimeLayout is the zone-less dateTime format used by Graph. The zone
// travels separately in timeZone.
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

type graphEvent struct {
	ID                   string         `json:"id,omitempty"`
	Subject              string         `json:"subject"`
	Body                 *graphBody     `json:"body,omitempty"`
	Location             *graphLocation `json:"location,omitempty"`
	Start                graphDateTime  `json:"start"`
	End                  graphDateTime  `json:"end"`
	IsAllDay             bool           `json:"isAllDay"`
	ShowAs               string         `json:"showAs,omitempty"`
	TransactionID        string         `json:"transactionId,omitempty"`
	IsCancelled          bool           `json:"isCancelled,omitempty"`
	LastModifiedDateTime string         `json:"lastModifiedDateTime,omitempty"`
	WebLink              string         `json:"webLink,omitempty"`
	ChangeKey            string         `json:"changeKey,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// toGraph converts a neutral event to the Graph event resource. The source id
// travels as transactionId, which Graph also uses to drop duplicate creates.
func toGraph(re model.RemoteEvent) graphEvent {
	ev := graphEvent{
		Subject:       re.Title,
		Start:         graphDateTime{DateTime: re.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		End:           graphDateTime{DateTime: re.End.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		IsAllDay:      re.AllDay,
		ShowAs:        "busy",
		TransactionID: re.SourceID,
	}
	if re.ShowAs == model.ShowFree {
		ev.ShowAs = "free"
	}
	if re.Description != "" {
		ev.Body = &graphBody{ContentType: "text", Content: re.Description}
	}
	if re.Location != "" {
		ev.Location = &graphLocation{DisplayName: re.Location}
	}
	return ev
}

// fromGraph converts a Graph event resource to the neutral form. Every
// showAs value other than "free" counts as busy.
func fromGraph(ev graphEvent) (model.RemoteEvent, error) {
	start, err := parseGraphTime(ev.Start)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("event %s start: %w", ev.ID, err)
	}
	end, err := parseGraphTime(ev.End)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("event %s end: %w", ev.ID, err)
	}
	re := model.RemoteEvent{
		ID:       ev.ID,
		Title:    ev.Subject,
		Start:    start,
		End:      end,
		AllDay:   ev.IsAllDay,
		ShowAs:   model.ShowBusy,
		SourceID: ev.TransactionID,
	}
	if ev.ShowAs == "free" {
		re.ShowAs = model.ShowFree
	}
	if ev.Body != nil {
		re.Description = ev.Body.Content
	}
	if ev.Location != nil {
		re.Location = ev.Location.DisplayName
	}
	if ev.LastModifiedDateTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.LastModifiedDateTime); err == nil {
			re.UpdatedAt = t.UTC()
		}
	}

	meta := map[string]string{}
	if ev.WebLink != "" {
		meta["web_link"] = ev.WebLink
	}
	if ev.ChangeKey != "" {
		meta["change_key"] = ev.ChangeKey
	}
	if ev.ShowAs != "" && ev.ShowAs != "free" && ev.ShowAs != "busy" {
		meta["show_as"] = ev.ShowAs
	}
	if len(meta) > 0 {
		re.Metadata = meta
	}
	return re, nil
}

func parseGraphTime(dt graphDateTime) (time.Time, error) {
	if dt.DateTime == "" {
		return time.Time{}, fmt.Errorf("missing dateTime")
	}
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphTimeLayout, dt.DateTime, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
