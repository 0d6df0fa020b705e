// Package provider defines the capability interface every external calendar
// backend implements, the error taxonomy those implementations report, and
// the factory that selects an implementation by provider discriminator.
//
// The sync engine talks only to [Client]; it never branches on the provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// Client is the uniform facade over one provider account. A Client is bound
// to the credential it was built with; after a token refresh the caller
// builds a new one.
type Client interface {
	ListEvents(ctx context.Context, calendarID string, window model.TimeRange) ([]model.RemoteEvent, error)
	CreateEvent(ctx context.Context, calendarID string, ev model.RemoteEvent) (model.RemoteEvent, error)
	UpdateEvent(ctx context.Context, calendarID, remoteID string, ev model.RemoteEvent) (model.RemoteEvent, error)
	DeleteEvent(ctx context.Context, calendarID, remoteID string) error
	RefreshAccessToken(ctx context.Context, refreshToken string) (model.Credential, error)
}

// Factory builds a Client for an integration, authenticated with cred. It is
// the only place that selects an implementation by provider.
type Factory func(integ *model.CalendarIntegration, cred model.Credential) (Client, error)

// Error kinds reported by every Client. Implementations wrap them (usually
// through [*Error]) so callers can test with errors.Is.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("remote event not found")
	ErrTransient    = errors.New("transient network error")
)

// Error is a failed provider call.
type Error struct {
	Provider model.Provider
	Op       string
	Status   int // HTTP status, 0 for transport failures
	Message  string
	Kind     error // one of the Err* sentinels, nil when the call was rejected for another reason
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// Classify maps an HTTP status to an error kind. It returns nil for statuses
// that are neither retryable nor auth or lookup failures (400, 409, ...).
func Classify(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrNotFound
	case status == http.StatusRequestTimeout || status >= 500:
		return ErrTransient
	}
	return nil
}

// NewError builds an *Error classified from the HTTP status.
func NewError(p model.Provider, op string, status int, message string) *Error {
	return &Error{Provider: p, Op: op, Status: status, Message: message, Kind: Classify(status)}
}

// TransportError wraps a failure that happened before any HTTP response was
// received. Context cancellation is passed through unchanged.
func TransportError(p model.Provider, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", p, op, err)
	}
	return &Error{Provider: p, Op: op, Message: err.Error(), Kind: ErrTransient}
}

// IsAuth reports whether err means the integration must be re-authorized.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Retryable reports whether a call failing with err may be attempted again.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// SkippedEvent is a remote event a listing could not convert.
type SkippedEvent struct {
	ID  string
	Err error
}

// ListError is returned by ListEvents together with the events it did
// convert. Only the Skipped items are missing from the listing.
type ListError struct {
	Provider model.Provider
	Skipped  []SkippedEvent
}

func (e *ListError) Error() string {
	if len(e.Skipped) == 1 {
		return fmt.Sprintf("%s list events: skipped event %s: %v", e.Provider, e.Skipped[0].ID, e.Skipped[0].Err)
	}
	return fmt.Sprintf("%s list events: skipped %d unreadable events", e.Provider, len(e.Skipped))
}

// Skip records an item that failed conversion.
func (e *ListError) Skip(id string, err error) {
	e.Skipped = append(e.Skipped, SkippedEvent{ID: id, Err: err})
}

// Err returns e when anything was skipped and nil otherwise.
func (e *ListError) Err() error {
	if e == nil || len(e.Skipped) == 0 {
		return nil
	}
	return e
}
