package outlook

import (
	"testing"
	"time"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

func TestToGraph(t *testing.T) {
	ev := toGraph(model.RemoteEvent{
		Title:       "Infection control huddle",
		Description: "Daily",
		Location:    "Nurses station",
		Start:       time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC),
		ShowAs:      model.ShowFree,
		SourceID:    "src-1",
	})
	if ev.Subject != "Infection control huddle" {
		t.Errorf("Subject = %q", ev.Subject)
	}
	if ev.Start.DateTime != "2026-05-04T14:00:00" || ev.Start.TimeZone != "UTC" {
		t.Errorf("Start = %+v", ev.Start)
	}
	if ev.ShowAs != "free" || ev.TransactionID != "src-1" {
		t.Errorf("ShowAs=%q TransactionID=%q", ev.ShowAs, ev.TransactionID)
	}
	if ev.Body == nil || ev.Body.Content != "Daily" || ev.Location == nil || ev.Location.DisplayName != "Nurses station" {
		t.Errorf("body/location = %+v %+v", ev.Body, ev.Location)
	}
}

func TestFromGraph(t *testing.T) {
	tests := []struct {
		name      string
		in        graphEvent
		wantStart time.Time
		wantShow  string
		wantMeta  string
		wantErr   bool
	}{
		{
			name: "utc with fraction",
			in: graphEvent{
				ID:      "m1",
				Subject: "Huddle",
				Start:   graphDateTime{DateTime: "2026-05-04T14:00:00.0000000", TimeZone: "UTC"},
				End:     graphDateTime{DateTime: "2026-05-04T14:30:00.0000000", TimeZone: "UTC"},
				ShowAs:  "busy",
			},
			wantStart: time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC),
			wantShow:  model.ShowBusy,
		},
		{
			name: "tentative kept as metadata",
			in: graphEvent{
				ID:     "m2",
				Start:  graphDateTime{DateTime: "2026-05-04T14:00:00", TimeZone: "UTC"},
				End:    graphDateTime{DateTime: "2026-05-04T15:00:00", TimeZone: "UTC"},
				ShowAs: "tentative",
			},
			wantStart: time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC),
			wantShow:  model.ShowBusy,
			wantMeta:  "tentative",
		},
		{
			name:    "missing start",
			in:      graphEvent{ID: "m3", End: graphDateTime{DateTime: "2026-05-04T15:00:00"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fromGraph(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("fromGraph: %v", err)
			}
			if !got.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %v, want %v", got.Start, tt.wantStart)
			}
			if got.ShowAs != tt.wantShow {
				t.Errorf("ShowAs = %q", got.ShowAs)
			}
			if got.Metadata["show_as"] != tt.wantMeta {
				t.Errorf("metadata show_as = %q", got.Metadata["show_as"])
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	re := model.RemoteEvent{
		Title:       "Fire drill",
		Description: "East wing",
		Location:    "Building 2",
		Start:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		ShowAs:      model.ShowBusy,
		SourceID:    "src",
	}
	got, err := fromGraph(toGraph(re))
	if err != nil {
		t.Fatalf("fromGraph: %v", err)
	}
	if got.Title != re.Title || got.Description != re.Description || got.Location != re.Location ||
		!got.Start.Equal(re.Start) || !got.End.Equal(re.End) || got.ShowAs != re.ShowAs || got.SourceID != re.SourceID {
		t.Errorf("round trip = %+v, want %+v", got, re)
	}
}
