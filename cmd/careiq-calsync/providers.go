package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/jaayshwaah/careiq-sub001/internal/config"
	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
	"github.com/jaayshwaah/careiq-sub001/internal/provider/caldav"
	"github.com/jaayshwaah/careiq-sub001/internal/provider/google"
	"github.com/jaayshwaah/careiq-sub001/internal/provider/outlook"
)

// oauthConfigs returns the authorization-code configuration of every
// configured OAuth provider.
func oauthConfigs(cfg config.ProvidersConfig) map[model.Provider]*oauth2.Config {
	out := make(map[model.Provider]*oauth2.Config, 2)
	if cfg.Google.Enabled() {
		out[model.ProviderGoogle] = google.OAuthConfig(cfg.Google)
	}
	if cfg.Outlook.Enabled() {
		out[model.ProviderOutlook] = outlook.OAuthConfig(cfg.Outlook)
	}
	return out
}

// newFactory builds provider clients for the orchestrator. ctx scopes the
// HTTP clients of the OAuth providers.
func newFactory(ctx context.Context, cfg config.ProvidersConfig) provider.Factory {
	confs := oauthConfigs(cfg)

	return func(integ *model.CalendarIntegration, cred model.Credential) (provider.Client, error) {
		switch integ.Provider {
		case model.ProviderGoogle:
			conf, ok := confs[model.ProviderGoogle]
			if !ok {
				return nil, fmt.Errorf("%w: google is not configured", model.ErrInvalid)
			}
			var opts []option.ClientOption
			if cfg.Google.BaseURL != "" {
				opts = append(opts, option.WithEndpoint(cfg.Google.BaseURL))
			}
			return google.New(ctx, conf, cred, opts...)
		case model.ProviderOutlook:
			conf, ok := confs[model.ProviderOutlook]
			if !ok {
				return nil, fmt.Errorf("%w: outlook is not configured", model.ErrInvalid)
			}
			return outlook.New(ctx, conf, cred, cfg.Outlook.BaseURL), nil
		case model.ProviderAppleCalDAV:
			return caldav.New(cfg.CalDAV.ServerURL, integ.AccountEmail, cred, nil)
		}
		return nil, fmt.Errorf("%w: unknown provider %q", model.ErrInvalid, integ.Provider)
	}
}

// caldavProbe verifies an app-specific password by resolving the primary
// calendar and listing one day of events.
func caldavProbe(serverURL string) func(ctx context.Context, username, password string) error {
	return func(ctx context.Context, username, password string) error {
		client, err := caldav.New(serverURL, username, model.Credential{AccessToken: password}, nil)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = client.ListEvents(ctx, "primary", model.TimeRange{Start: now, End: now.Add(24 * time.Hour)})
		var skipped *provider.ListError
		if errors.As(err, &skipped) {
			return nil
		}
		return err
	}
}
