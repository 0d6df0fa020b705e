// Package google implements [provider.Client] over the Google Calendar v3 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jaayshwaah/careiq-sub001/internal/config"
	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
)

// OAuthConfig returns the authorization-code configuration for Google.
func OAuthConfig(c config.OAuthClientConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     oauthgoogle.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope, "openid", "email"},
	}
}

// Client talks to one Google account.
type Client struct {
	svc  *calendar.Service
	conf *oauth2.Config
}

var _ provider.Client = (*Client)(nil)

// New builds a Client authenticated with cred. Extra options (an endpoint
// override, for instance) are applied after the HTTP client.
func New(ctx context.Context, conf *oauth2.Config, cred model.Credential, opts ...option.ClientOption) (*Client, error) {
	all := append([]option.ClientOption{option.WithHTTPClient(provider.BearerClient(ctx, cred))}, opts...)
	svc, err := calendar.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return &Client{svc: svc, conf: conf}, nil
}

// ListEvents returns single (expanded) events overlapping window, following
// pagination. Cancelled instances are skipped. Items that cannot be converted
// are left out and reported through a [*provider.ListError].
func (c *Client) ListEvents(ctx context.Context, calendarID string, window model.TimeRange) ([]model.RemoteEvent, error) {
	var out []model.RemoteEvent
	skipped := &provider.ListError{Provider: model.ProviderGoogle}
	call := c.svc.Events.List(calendarID).
		TimeMin(window.Start.UTC().Format(time.RFC3339)).
		TimeMax(window.End.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			re, err := fromGoogle(item)
			if err != nil {
				skipped.Skip(item.Id, err)
				continue
			}
			out = append(out, re)
		}
		return nil
	})
	if err != nil {
		return nil, apiError("list events", err)
	}
	return out, skipped.Err()
}

// CreateEvent inserts ev and returns it with the assigned id.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	created, err := c.svc.Events.Insert(calendarID, toGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return model.RemoteEvent{}, apiError("insert event", err)
	}
	return fromGoogleOrSelf(created, ev)
}

// UpdateEvent replaces the remote event remoteID with ev.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, remoteID string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	updated, err := c.svc.Events.Update(calendarID, remoteID, toGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return model.RemoteEvent{}, apiError("update event", err)
	}
	return fromGoogleOrSelf(updated, ev)
}

// DeleteEvent removes remoteID. A 410 Gone maps to provider.ErrNotFound.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, remoteID string) error {
	if err := c.svc.Events.Delete(calendarID, remoteID).Context(ctx).Do(); err != nil {
		return apiError("delete event", err)
	}
	return nil
}

// RefreshAccessToken exchanges refreshToken at Google's token endpoint.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (model.Credential, error) {
	return provider.RefreshOAuth(ctx, model.ProviderGoogle, c.conf, refreshToken)
}

// fromGoogleOrSelf converts a write response, falling back to the request
// payload if the response is missing fields.
func fromGoogleOrSelf(ev *calendar.Event, sent model.RemoteEvent) (model.RemoteEvent, error) {
	re, err := fromGoogle(ev)
	if err != nil {
		sent.ID = ev.Id
		return sent, nil
	}
	return re, nil
}

// apiError maps a googleapi error onto the provider taxonomy. Google reports
// quota exhaustion as 403 with a rateLimitExceeded reason.
func apiError(op string, err error) error {
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return provider.TransportError(model.ProviderGoogle, op, err)
	}
	e := provider.NewError(model.ProviderGoogle, op, ge.Code, ge.Message)
	if ge.Code == http.StatusForbidden {
		for _, item := range ge.Errors {
			if strings.Contains(strings.ToLower(item.Reason), "ratelimitexceeded") {
				e.Kind = provider.ErrRateLimited
			}
		}
	}
	return e
}
