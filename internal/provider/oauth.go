package provider

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

// RefreshOAuth exchanges a refresh token at conf's token endpoint. A rejected
// grant (invalid_grant and friends, reported as 400/401) is ErrUnauthorized:
// the user must re-authorize.
func RefreshOAuth(ctx context.Context, p model.Provider, conf *oauth2.Config, refreshToken string) (model.Credential, error) {
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return model.Credential{}, oauthError(p, "refresh token", err)
	}
	return CredentialFromToken(tok), nil
}

// CredentialFromToken converts an oauth2 token to the stored credential form.
func CredentialFromToken(tok *oauth2.Token) model.Credential {
	return model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry.UTC(),
	}
}

// BearerClient returns an HTTP client that sends cred's access token. It does
// not refresh: refresh happens once per run, before the client is built.
// The base transport is taken from ctx (oauth2.HTTPClient) when present.
func BearerClient(ctx context.Context, cred model.Credential) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
	}))
}

func oauthError(p model.Provider, op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		e := NewError(p, op, status, re.ErrorCode)
		if status == http.StatusBadRequest {
			e.Kind = ErrUnauthorized
		}
		return e
	}
	return TransportError(p, op, err)
}
