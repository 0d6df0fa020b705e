// Package caldav implements [provider.Client] for CalDAV servers (iCloud in
// production) using HTTP basic auth with an app-specific password.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
)

// statusRecorder remembers the status of the last failed response. The
// go-webdav client reports HTTP failures through an internal error type, so
// the status is captured here for classification.
type statusRecorder struct {
	next   webdav.HTTPClient
	failed atomic.Int32
}

func (s *statusRecorder) Do(req *http.Request) (*http.Response, error) {
	resp, err := s.next.Do(req)
	if err == nil && resp.StatusCode >= 400 {
		s.failed.Store(int32(resp.StatusCode))
	}
	return resp, err
}

// Client talks to one CalDAV account.
type Client struct {
	dav      *caldav.Client
	recorder *statusRecorder
	now      func() time.Time

	// defaultCalendar is resolved on first use of the "primary" alias.
	defaultCalendar string
}

var _ provider.Client = (*Client)(nil)

// New builds a Client for serverURL authenticating as username with the
// app-specific password carried in cred.AccessToken. httpClient may be nil.
func New(serverURL, username string, cred model.Credential, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rec := &statusRecorder{next: webdav.HTTPClientWithBasicAuth(httpClient, username, cred.AccessToken)}
	dav, err := caldav.NewClient(rec, serverURL)
	if err != nil {
		return nil, fmt.Errorf("creating caldav client: %w", err)
	}
	return &Client{dav: dav, recorder: rec, now: time.Now}, nil
}

// resolveCalendar maps "primary" (or empty) to the first calendar in the
// user's home set that accepts events. Any other value is used as a path.
func (c *Client) resolveCalendar(ctx context.Context, calendarID string) (string, error) {
	if calendarID != "" && calendarID != "primary" {
		return calendarID, nil
	}
	if c.defaultCalendar != "" {
		return c.defaultCalendar, nil
	}
	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", c.classify("find principal", err)
	}
	home, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", c.classify("find calendar home", err)
	}
	cals, err := c.dav.FindCalendars(ctx, home)
	if err != nil {
		return "", c.classify("find calendars", err)
	}
	for _, cal := range cals {
		if supportsEvents(cal) {
			c.defaultCalendar = cal.Path
			return cal.Path, nil
		}
	}
	return "", &provider.Error{
		Provider: model.ProviderAppleCalDAV,
		Op:       "find calendars",
		Message:  "no calendar accepting events",
		Kind:     provider.ErrNotFound,
	}
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if strings.EqualFold(comp, "VEVENT") {
			return true
		}
	}
	return false
}

// ListEvents runs a calendar-query REPORT for VEVENTs overlapping window.
// Objects that cannot be converted are left out and reported through a
// [*provider.ListError].
func (c *Client) ListEvents(ctx context.Context, calendarID string, window model.TimeRange) ([]model.RemoteEvent, error) {
	calPath, err := c.resolveCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{Name: "VEVENT", AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: window.Start.UTC(),
				End:   window.End.UTC(),
			}},
		},
	}
	objects, err := c.dav.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, c.classify("list events", err)
	}

	var out []model.RemoteEvent
	skipped := &provider.ListError{Provider: model.ProviderAppleCalDAV}
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events, err := fromICal(obj.Path, obj.Data)
		if err != nil {
			skipped.Skip(obj.Path, err)
			continue
		}
		for i := range events {
			if obj.ETag != "" {
				if events[i].Metadata == nil {
					events[i].Metadata = map[string]string{}
				}
				events[i].Metadata["etag"] = obj.ETag
			}
		}
		out = append(out, events...)
	}
	return out, skipped.Err()
}

// CreateEvent stores ev as a new object. The object is named after the source
// id when there is one, so repeating a create overwrites instead of
// duplicating.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	calPath, err := c.resolveCalendar(ctx, calendarID)
	if err != nil {
		return model.RemoteEvent{}, err
	}
	uid := ev.SourceID
	if uid == "" {
		uid = uuid.NewString()
	}
	objPath := path.Join(calPath, uid+".ics")
	if _, err := c.dav.PutCalendarObject(ctx, objPath, toICal(uid, ev, c.now())); err != nil {
		return model.RemoteEvent{}, c.classify("create event", err)
	}
	ev.ID = objPath
	return ev, nil
}

// UpdateEvent overwrites the object at remoteID, keeping its UID.
func (c *Client) UpdateEvent(ctx context.Context, _ string, remoteID string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	uid := strings.TrimSuffix(path.Base(remoteID), ".ics")
	if v := ev.Metadata["uid"]; v != "" {
		uid = v
	}
	if _, err := c.dav.PutCalendarObject(ctx, remoteID, toICal(uid, ev, c.now())); err != nil {
		return model.RemoteEvent{}, c.classify("update event", err)
	}
	ev.ID = remoteID
	return ev, nil
}

// DeleteEvent removes the object at remoteID.
func (c *Client) DeleteEvent(ctx context.Context, _ string, remoteID string) error {
	if err := c.dav.RemoveAll(ctx, remoteID); err != nil {
		return c.classify("delete event", err)
	}
	return nil
}

// RefreshAccessToken always fails: app-specific passwords cannot be renewed
// programmatically.
func (c *Client) RefreshAccessToken(context.Context, string) (model.Credential, error) {
	return model.Credential{}, &provider.Error{
		Provider: model.ProviderAppleCalDAV,
		Op:       "refresh token",
		Message:  "app-specific passwords cannot be refreshed",
		Kind:     provider.ErrUnauthorized,
	}
}

func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", model.ProviderAppleCalDAV, op, err)
	}
	if status := int(c.recorder.failed.Swap(0)); status != 0 {
		return provider.NewError(model.ProviderAppleCalDAV, op, status, err.Error())
	}
	return provider.TransportError(model.ProviderAppleCalDAV, op, err)
}
