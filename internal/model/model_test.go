package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"google", ProviderGoogle, false},
		{"outlook", ProviderOutlook, false},
		{"apple_caldav", ProviderAppleCalDAV, false},
		{"Google", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("ParseProvider(%q) error = %v, want ErrInvalid", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProvider(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseProvider(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in         string
		want       Direction
		push, pull bool
	}{
		{"", DirectionBidirectional, true, true},
		{"push", DirectionPush, true, false},
		{"pull", DirectionPull, false, true},
		{"bidirectional", DirectionBidirectional, true, true},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDirection(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got.Pushes() != tt.push || got.Pulls() != tt.pull {
			t.Errorf("%q: Pushes=%v Pulls=%v, want %v %v", got, got.Pushes(), got.Pulls(), tt.push, tt.pull)
		}
	}

	if _, err := ParseDirection("sideways"); !errors.Is(err, ErrInvalid) {
		t.Errorf("ParseDirection(sideways) error = %v, want ErrInvalid", err)
	}
}

func TestCredentialValidAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"future expiry", Credential{AccessToken: "a", Expiry: now.Add(time.Hour)}, true},
		{"expired one second ago", Credential{AccessToken: "a", Expiry: now.Add(-time.Second)}, false},
		{"expires exactly now", Credential{AccessToken: "a", Expiry: now}, false},
		{"zero expiry never expires", Credential{AccessToken: "a"}, true},
		{"missing access token", Credential{Expiry: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.ValidAt(now); got != tt.want {
				t.Errorf("ValidAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialUpdate_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	exp := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	u := CredentialUpdate(Credential{AccessToken: "new", Expiry: exp})
	if u.RefreshToken != nil {
		t.Errorf("RefreshToken = %q, want untouched", *u.RefreshToken)
	}
	if u.AccessToken == nil || *u.AccessToken != "new" {
		t.Errorf("AccessToken not set")
	}
	if u.TokenExpiresAt == nil || !u.TokenExpiresAt.Equal(exp) {
		t.Errorf("TokenExpiresAt not set")
	}

	u = CredentialUpdate(Credential{AccessToken: "new", RefreshToken: "rotated", Expiry: exp})
	if u.RefreshToken == nil || *u.RefreshToken != "rotated" {
		t.Errorf("rotated refresh token not persisted")
	}
}

func TestIntegrationUpdateEmpty(t *testing.T) {
	if !(IntegrationUpdate{}).Empty() {
		t.Error("zero update should be empty")
	}
	active := false
	if (IntegrationUpdate{IsActive: &active}).Empty() {
		t.Error("update with IsActive should not be empty")
	}
}

func TestPullWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
	w := PullWindow(now)
	wantStart := time.Date(2026, 2, 15, 14, 30, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 9, 15, 14, 30, 0, 0, time.UTC)
	if !w.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", w.Start, wantStart)
	}
	if !w.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", w.End, wantEnd)
	}
	if w.Start.Location() != time.UTC {
		t.Errorf("window not normalized to UTC")
	}
}

func TestCountsAllFailed(t *testing.T) {
	tests := []struct {
		c    Counts
		want bool
	}{
		{Counts{}, false},
		{Counts{Processed: 3, Failed: 3}, true},
		{Counts{Processed: 3, Failed: 2, Created: 1}, false},
	}
	for _, tt := range tests {
		if got := tt.c.AllFailed(); got != tt.want {
			t.Errorf("%+v.AllFailed() = %v, want %v", tt.c, got, tt.want)
		}
	}

	var total Counts
	total.Add(Counts{Processed: 2, Created: 2})
	total.Add(Counts{Processed: 1, Updated: 1, Failed: 0})
	if total.Processed != 3 || total.Created != 2 || total.Updated != 1 {
		t.Errorf("Add = %+v", total)
	}
}

func TestLinkedTo(t *testing.T) {
	ev := &CalendarEvent{ExternalProvider: ProviderGoogle, ExternalID: "g-1"}
	if !ev.LinkedTo(ProviderGoogle) {
		t.Error("expected linked to google")
	}
	if ev.LinkedTo(ProviderOutlook) {
		t.Error("should not be linked to outlook")
	}
	if (&CalendarEvent{ExternalProvider: ProviderGoogle}).LinkedTo(ProviderGoogle) {
		t.Error("empty external id must not count as linked")
	}
}
