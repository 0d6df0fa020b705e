package model

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationStatus is the outcome of the last sync run of an integration.
type IntegrationStatus string

const (
	IntegrationPending IntegrationStatus = "pending"
	IntegrationSuccess IntegrationStatus = "success"
	IntegrationError   IntegrationStatus = "error"
)

// CalendarIntegration is a stored authorization linking one user to one
// external calendar provider. At most one active integration exists per
// (UserID, Provider).
type CalendarIntegration struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Provider Provider

	// AccountEmail is the provider account (Google/Microsoft address, or the
	// Apple ID used as CalDAV username).
	AccountEmail string

	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time

	IsActive    bool
	SyncEnabled bool

	LastSyncAt     *time.Time
	LastSyncStatus IntegrationStatus
	ErrorMessage   string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Credential returns the stored credential triple.
func (i *CalendarIntegration) Credential() Credential {
	return Credential{
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
		Expiry:       i.TokenExpiresAt,
	}
}

// Credential is the bearer material threaded through one sync run.
type Credential struct {
	AccessToken  string
	RefreshToken string

	// Expiry is when AccessToken stops being accepted. The zero value means
	// the credential does not expire (CalDAV app-specific passwords).
	Expiry time.Time
}

// ValidAt reports whether the access credential can be used at now.
func (c Credential) ValidAt(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || c.Expiry.After(now)
}

// IntegrationUpdate is a partial update of an integration row. Nil fields are
// left untouched.
type IntegrationUpdate struct {
	AccessToken    *string
	RefreshToken   *string
	TokenExpiresAt *time.Time
	IsActive       *bool
	SyncEnabled    *bool
	LastSyncAt     *time.Time
	LastSyncStatus *IntegrationStatus
	ErrorMessage   *string
}

// Empty reports whether the update changes nothing.
func (u IntegrationUpdate) Empty() bool {
	return u.AccessToken == nil && u.RefreshToken == nil && u.TokenExpiresAt == nil &&
		u.IsActive == nil && u.SyncEnabled == nil && u.LastSyncAt == nil &&
		u.LastSyncStatus == nil && u.ErrorMessage == nil
}

// CredentialUpdate builds the update persisting a refreshed credential. An
// empty refresh token keeps the stored one, since providers only rotate it
// occasionally.
func CredentialUpdate(c Credential) IntegrationUpdate {
	u := IntegrationUpdate{
		AccessToken:    &c.AccessToken,
		TokenExpiresAt: &c.Expiry,
	}
	if c.RefreshToken != "" {
		u.RefreshToken = &c.RefreshToken
	}
	return u
}

// FinishUpdate builds the finalization update written once per run.
func FinishUpdate(at time.Time, status IntegrationStatus, message string) IntegrationUpdate {
	return IntegrationUpdate{
		LastSyncAt:     &at,
		LastSyncStatus: &status,
		ErrorMessage:   &message,
	}
}
