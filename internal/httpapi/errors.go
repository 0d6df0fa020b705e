package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
	"github.com/jaayshwaah/careiq-sub001/internal/sync"
	"github.com/jaayshwaah/careiq-sub001/internal/token"
)

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	var perr *provider.Error
	switch {
	case errors.Is(err, model.ErrSyncAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, sync.ErrIntegrationInactive):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalid), errors.Is(err, errBadState):
		return http.StatusBadRequest
	case errors.Is(err, token.ErrAuthExpiredNoRefresh), provider.IsAuth(err):
		return http.StatusUnauthorized
	case errors.As(err, &perr), errors.Is(err, provider.ErrRateLimited),
		errors.Is(err, provider.ErrTransient), errors.Is(err, provider.ErrNotFound):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail converts err into an echo error. Internal failures are logged and
// reported without detail.
func (s *Server) fail(c echo.Context, err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
		return echo.NewHTTPError(code, "internal error")
	}
	return echo.NewHTTPError(code, err.Error())
}
