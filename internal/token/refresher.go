// Package token guarantees a usable access credential before an integration
// talks to its provider.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// ErrAuthExpiredNoRefresh means the access credential has expired and there
// is no refresh credential to renew it. The user must re-authorize.
var ErrAuthExpiredNoRefresh = errors.New("access token expired and no refresh token is stored; reconnect the calendar to re-authorize")

// CredentialWriter persists a refreshed credential.
// Implemented by [state.Store].
type CredentialWriter interface {
	UpdateIntegration(ctx context.Context, id uuid.UUID, upd model.IntegrationUpdate) error
}

// Exchanger trades a refresh credential for a new access credential.
// Implemented by every [provider.Client].
type Exchanger interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (model.Credential, error)
}

// Refresher validates and, when needed, renews integration credentials.
type Refresher struct {
	store  CredentialWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewRefresher returns a Refresher persisting through store.
func NewRefresher(store CredentialWriter, logger *slog.Logger) *Refresher {
	return &Refresher{store: store, logger: logger, now: time.Now}
}

// Ensure returns a credential usable now for the integration. A credential
// whose expiry is still in the future is returned without any network call.
// Otherwise the refresh credential is exchanged through ex and the result is
// persisted before returning. refreshed reports whether an exchange happened.
//
// Callers invoke Ensure once per run and thread the returned credential
// through every provider call of that run.
func (r *Refresher) Ensure(ctx context.Context, integ *model.CalendarIntegration, ex Exchanger) (cred model.Credential, refreshed bool, err error) {
	cred = integ.Credential()
	if cred.ValidAt(r.now()) {
		return cred, false, nil
	}
	if cred.RefreshToken == "" {
		return model.Credential{}, false, ErrAuthExpiredNoRefresh
	}

	r.logger.Debug("refreshing access token",
		"integration_id", integ.ID, "provider", integ.Provider, "expired_at", cred.Expiry)

	next, err := ex.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("refreshing access token: %w", err)
	}
	if next.AccessToken == "" {
		return model.Credential{}, false, fmt.Errorf("refreshing access token: provider returned an empty token")
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	if err := r.store.UpdateIntegration(ctx, integ.ID, model.CredentialUpdate(next)); err != nil {
		return model.Credential{}, false, fmt.Errorf("persisting refreshed token: %w", err)
	}
	integ.AccessToken = next.AccessToken
	integ.RefreshToken = next.RefreshToken
	integ.TokenExpiresAt = next.Expiry

	r.logger.Info("access token refreshed",
		"integration_id", integ.ID, "provider", integ.Provider, "expires_at", next.Expiry)
	return next, true, nil
}
