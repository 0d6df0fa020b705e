// Package outlook implements [provider.Client] over the Microsoft Graph
// calendar API.
package outlook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/jaayshwaah/careiq-sub001/internal/config"
	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
)

// DefaultBaseURL is the Graph v1.0 root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// OAuthConfig returns the authorization-code configuration for the
// configured Azure AD tenant.
func OAuthConfig(c config.OAuthClientConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     microsoft.AzureADEndpoint(c.Tenant),
		Scopes:       []string{"openid", "email", "offline_access", "User.Read", "Calendars.ReadWrite"},
	}
}

// Client talks to one Microsoft account.
type Client struct {
	http    *http.Client
	baseURL string
	conf    *oauth2.Config
}

var _ provider.Client = (*Client)(nil)

// New builds a Client authenticated with cred. An empty baseURL selects
// [DefaultBaseURL].
func New(ctx context.Context, conf *oauth2.Config, cred model.Credential, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    provider.BearerClient(ctx, cred),
		baseURL: strings.TrimRight(baseURL, "/"),
		conf:    conf,
	}
}

func (c *Client) calendarPath(calendarID string) string {
	if calendarID == "" || calendarID == "primary" {
		return "/me/calendar"
	}
	return "/me/calendars/" + url.PathEscape(calendarID)
}

// ListEvents reads the calendar view for window, following @odata.nextLink.
// Cancelled occurrences are skipped. Items that cannot be converted are left
// out and reported through a [*provider.ListError].
func (c *Client) ListEvents(ctx context.Context, calendarID string, window model.TimeRange) ([]model.RemoteEvent, error) {
	params := url.Values{}
	params.Set("startDateTime", window.Start.UTC().Format(time.RFC3339))
	params.Set("endDateTime", window.End.UTC().Format(time.RFC3339))
	params.Set("$top", "100")
	next := c.baseURL + c.calendarPath(calendarID) + "/calendarView?" + params.Encode()

	var out []model.RemoteEvent
	skipped := &provider.ListError{Provider: model.ProviderOutlook}
	for next != "" {
		var page struct {
			Value    []graphEvent `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, "list events", http.MethodGet, next, nil, http.StatusOK, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			if item.IsCancelled {
				continue
			}
			re, err := fromGraph(item)
			if err != nil {
				skipped.Skip(item.ID, err)
				continue
			}
			out = append(out, re)
		}
		next = page.NextLink
	}
	return out, skipped.Err()
}

// CreateEvent posts ev to the calendar and returns it with the assigned id.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	var created graphEvent
	err := c.do(ctx, "create event", http.MethodPost,
		c.baseURL+c.calendarPath(calendarID)+"/events", toGraph(ev), http.StatusCreated, &created)
	if err != nil {
		return model.RemoteEvent{}, err
	}
	return responseEvent(created, ev)
}

// UpdateEvent patches remoteID with ev.
func (c *Client) UpdateEvent(ctx context.Context, _ string, remoteID string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	var updated graphEvent
	err := c.do(ctx, "update event", http.MethodPatch,
		c.baseURL+"/me/events/"+url.PathEscape(remoteID), toGraph(ev), http.StatusOK, &updated)
	if err != nil {
		return model.RemoteEvent{}, err
	}
	return responseEvent(updated, ev)
}

// DeleteEvent removes remoteID.
func (c *Client) DeleteEvent(ctx context.Context, _ string, remoteID string) error {
	return c.do(ctx, "delete event", http.MethodDelete,
		c.baseURL+"/me/events/"+url.PathEscape(remoteID), nil, http.StatusNoContent, nil)
}

// RefreshAccessToken exchanges refreshToken at the Azure AD token endpoint.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (model.Credential, error) {
	return provider.RefreshOAuth(ctx, model.ProviderOutlook, c.conf, refreshToken)
}

func responseEvent(got graphEvent, sent model.RemoteEvent) (model.RemoteEvent, error) {
	re, err := fromGraph(got)
	if err != nil {
		sent.ID = got.ID
		return sent, nil
	}
	return re, nil
}

// do performs one Graph request. body, when non-nil, is JSON encoded; the
// response is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.TransportError(model.ProviderOutlook, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want && !(want == http.StatusNoContent && resp.StatusCode == http.StatusOK) {
		return graphError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.TransportError(model.ProviderOutlook, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func graphError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Code != "" {
		msg = payload.Error.Code + ": " + payload.Error.Message
	}
	return provider.NewError(model.ProviderOutlook, op, resp.StatusCode, msg)
}
