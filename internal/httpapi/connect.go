package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
)

// oauthProvider resolves :provider to a configured OAuth provider.
func (s *Server) oauthProvider(c echo.Context) (model.Provider, *oauth2.Config, error) {
	p, err := model.ParseProvider(c.Param("provider"))
	if err != nil {
		return "", nil, err
	}
	if !p.UsesOAuth() {
		return "", nil, fmt.Errorf("%w: %s is connected with an app password", model.ErrInvalid, p)
	}
	conf, ok := s.oauth[p]
	if !ok || conf == nil {
		return "", nil, fmt.Errorf("%w: %s is not configured", model.ErrInvalid, p)
	}
	return p, conf, nil
}

func (s *Server) authorizeURL(c echo.Context) error {
	p, conf, err := s.oauthProvider(c)
	if err != nil {
		return s.fail(c, err)
	}
	state, err := s.signState(callerID(c), p)
	if err != nil {
		return s.fail(c, err)
	}
	url := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return c.JSON(http.StatusOK, map[string]string{"url": url, "state": state})
}

type callbackBody struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (s *Server) oauthCallback(c echo.Context) error {
	p, conf, err := s.oauthProvider(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body callbackBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Code == "" || body.State == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code and state are required")
	}
	userID := callerID(c)
	if err := s.verifyState(body.State, userID, p); err != nil {
		return s.fail(c, err)
	}

	ctx := c.Request().Context()
	tok, err := conf.Exchange(ctx, body.Code)
	if err != nil {
		s.log.Warn("oauth code exchange failed", "provider", p, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "authorization code exchange failed")
	}
	if tok.RefreshToken == "" {
		s.log.Warn("provider returned no refresh token", "provider", p, "user_id", userID)
	}

	cred := provider.CredentialFromToken(tok)
	idToken, _ := tok.Extra("id_token").(string)
	in := &model.CalendarIntegration{
		UserID:         userID,
		Provider:       p,
		AccountEmail:   idTokenEmail(idToken),
		AccessToken:    cred.AccessToken,
		RefreshToken:   cred.RefreshToken,
		TokenExpiresAt: cred.Expiry,
	}
	if err := s.store.ConnectIntegration(ctx, in); err != nil {
		return s.fail(c, err)
	}
	s.log.Info("integration connected", "integration_id", in.ID, "provider", p, "user_id", userID)
	return c.JSON(http.StatusCreated, viewOf(in))
}

type caldavBody struct {
	Email       string `json:"email"`
	AppPassword string `json:"app_password"`
}

func (s *Server) connectCalDAV(c echo.Context) error {
	var body caldavBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || body.AppPassword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and app_password are required")
	}

	ctx := c.Request().Context()
	if s.probe != nil {
		if err := s.probe(ctx, body.Email, body.AppPassword); err != nil {
			s.log.Warn("caldav credentials rejected", "error", err)
			if provider.IsAuth(err) {
				return echo.NewHTTPError(http.StatusUnauthorized, "CalDAV server rejected the app-specific password")
			}
			return s.fail(c, err)
		}
	}

	in := &model.CalendarIntegration{
		UserID:       callerID(c),
		Provider:     model.ProviderAppleCalDAV,
		AccountEmail: body.Email,
		AccessToken:  body.AppPassword,
	}
	if err := s.store.ConnectIntegration(ctx, in); err != nil {
		return s.fail(c, err)
	}
	s.log.Info("integration connected", "integration_id", in.ID, "provider", in.Provider, "user_id", in.UserID)
	return c.JSON(http.StatusCreated, viewOf(in))
}
