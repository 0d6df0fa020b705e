package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/sync"
)

type integrationView struct {
	ID             uuid.UUID               `json:"id"`
	Provider       model.Provider          `json:"provider"`
	AccountEmail   string                  `json:"account_email,omitempty"`
	IsActive       bool                    `json:"is_active"`
	SyncEnabled    bool                    `json:"sync_enabled"`
	LastSyncAt     *string                 `json:"last_sync_at,omitempty"`
	LastSyncStatus model.IntegrationStatus `json:"last_sync_status"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
}

// viewOf never exposes credentials.
func viewOf(in *model.CalendarIntegration) integrationView {
	v := integrationView{
		ID:             in.ID,
		Provider:       in.Provider,
		AccountEmail:   in.AccountEmail,
		IsActive:       in.IsActive,
		SyncEnabled:    in.SyncEnabled,
		LastSyncStatus: in.LastSyncStatus,
		ErrorMessage:   in.ErrorMessage,
	}
	if in.LastSyncAt != nil {
		ts := in.LastSyncAt.UTC().Format(time.RFC3339)
		v.LastSyncAt = &ts
	}
	return v
}

// ownedIntegration loads the :id integration and checks that it belongs to
// the caller. Foreign integrations are reported as not found.
func (s *Server) ownedIntegration(c echo.Context) (*model.CalendarIntegration, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, fmt.Errorf("%w: integration id %q", model.ErrInvalid, c.Param("id"))
	}
	in, err := s.store.GetIntegration(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if in.UserID != callerID(c) || in.DeletedAt != nil {
		return nil, fmt.Errorf("integration %s: %w", id, model.ErrNotFound)
	}
	return in, nil
}

func (s *Server) listIntegrations(c echo.Context) error {
	list, err := s.store.ListIntegrations(c.Request().Context(), callerID(c))
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]integrationView, 0, len(list))
	for _, in := range list {
		out = append(out, viewOf(in))
	}
	return c.JSON(http.StatusOK, map[string]any{"integrations": out})
}

type syncBody struct {
	Direction  string `json:"direction"`
	CalendarID string `json:"calendar_id"`
}

type syncFailure struct {
	Message string              `json:"message"`
	Result  model.SyncRunResult `json:"result"`
}

func (s *Server) triggerSync(c echo.Context) error {
	in, err := s.ownedIntegration(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body syncBody
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	dir, err := model.ParseDirection(body.Direction)
	if err != nil {
		return s.fail(c, err)
	}

	// A run is bounded by its own timeout, not by the caller staying connected.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := s.syncer.Sync(ctx, sync.Request{
		IntegrationID: in.ID,
		RunType:       model.RunManual,
		Direction:     dir,
		CalendarID:    body.CalendarID,
	})
	if err != nil {
		if res.LogID == uuid.Nil {
			return s.fail(c, err)
		}
		// The run happened and was logged; report its outcome with the error.
		return c.JSON(statusFor(err), syncFailure{Message: res.Error, Result: res})
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) status(c echo.Context) error {
	in, err := s.ownedIntegration(c)
	if err != nil {
		return s.fail(c, err)
	}
	st, err := s.syncer.Status(c.Request().Context(), in.ID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

type updateBody struct {
	IsActive    *bool `json:"is_active"`
	SyncEnabled *bool `json:"sync_enabled"`
}

func (s *Server) updateIntegration(c echo.Context) error {
	in, err := s.ownedIntegration(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body updateBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.IsActive == nil && body.SyncEnabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update: set is_active or sync_enabled")
	}

	ctx := c.Request().Context()
	upd := model.IntegrationUpdate{IsActive: body.IsActive, SyncEnabled: body.SyncEnabled}
	if err := s.store.UpdateIntegration(ctx, in.ID, upd); err != nil {
		return s.fail(c, err)
	}
	updated, err := s.store.GetIntegration(ctx, in.ID)
	if err != nil {
		return s.fail(c, err)
	}
	s.log.Info("integration updated", "integration_id", in.ID,
		"is_active", updated.IsActive, "sync_enabled", updated.SyncEnabled)
	return c.JSON(http.StatusOK, viewOf(updated))
}

func (s *Server) disconnect(c echo.Context) error {
	in, err := s.ownedIntegration(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.store.DisconnectIntegration(c.Request().Context(), in.ID); err != nil {
		return s.fail(c, err)
	}
	s.log.Info("integration disconnected", "integration_id", in.ID, "provider", in.Provider)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteEvent(c echo.Context) error {
	in, err := s.ownedIntegration(c)
	if err != nil {
		return s.fail(c, err)
	}
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event id")
	}
	res, err := s.syncer.DeleteEvent(context.WithoutCancel(c.Request().Context()), in.ID, eventID)
	if err != nil {
		if res.LogID == uuid.Nil {
			return s.fail(c, err)
		}
		return c.JSON(statusFor(err), syncFailure{Message: res.Error, Result: res})
	}
	return c.JSON(http.StatusOK, res)
}
