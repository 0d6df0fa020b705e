// Package httpapi exposes sync triggers, status and the integration
// lifecycle over HTTP. Every route except /healthz requires a bearer JWT whose
// subject is the caller's user id.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/oauth2"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/sync"
)

const shutdownTimeout = 10 * time.Second

// Syncer runs and reports sync work.
// Implemented by [sync.Orchestrator].
type Syncer interface {
	Sync(ctx context.Context, req sync.Request) (model.SyncRunResult, error)
	DeleteEvent(ctx context.Context, integrationID, eventID uuid.UUID) (model.SyncRunResult, error)
	Status(ctx context.Context, integrationID uuid.UUID) (model.SyncStatus, error)
}

// IntegrationStore manages integration rows.
// Implemented by [state.Store].
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (*model.CalendarIntegration, error)
	ListIntegrations(ctx context.Context, userID uuid.UUID) ([]*model.CalendarIntegration, error)
	ConnectIntegration(ctx context.Context, in *model.CalendarIntegration) error
	UpdateIntegration(ctx context.Context, id uuid.UUID, upd model.IntegrationUpdate) error
	DisconnectIntegration(ctx context.Context, id uuid.UUID) error
}

// CalDAVProbe checks that an app-specific password opens the account's
// calendar before it is stored.
type CalDAVProbe func(ctx context.Context, username, password string) error

// Deps wires a Server.
type Deps struct {
	Syncer Syncer
	Store  IntegrationStore
	// OAuth holds the authorization-code configuration per OAuth provider.
	// A provider without an entry cannot be connected.
	OAuth map[model.Provider]*oauth2.Config
	// ProbeCalDAV is optional; nil stores CalDAV credentials unchecked.
	ProbeCalDAV CalDAVProbe
	// Secret verifies caller tokens and signs OAuth state tokens.
	Secret []byte
	// Ping reports storage health for /healthz. Optional.
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

// Server is the HTTP front of the sync service.
type Server struct {
	syncer Syncer
	store  IntegrationStore
	oauth  map[model.Provider]*oauth2.Config
	probe  CalDAVProbe
	secret []byte
	ping   func(ctx context.Context) error
	log    *slog.Logger
	now    func() time.Time

	echo *echo.Echo
}

// New builds a Server with all routes registered.
func New(d Deps) *Server {
	s := &Server{
		syncer: d.Syncer,
		store:  d.Store,
		oauth:  d.OAuth,
		probe:  d.ProbeCalDAV,
		secret: d.Secret,
		ping:   d.Ping,
		log:    d.Logger,
		now:    time.Now,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				s.log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.log.Debug("request", attrs...)
			return nil
		},
	}))
	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	v1 := s.echo.Group("/api/v1", s.requireUser())

	ig := v1.Group("/integrations")
	ig.GET("", s.listIntegrations)
	ig.GET("/connect/:provider", s.authorizeURL)
	ig.POST("/connect/apple_caldav", s.connectCalDAV)
	ig.POST("/connect/:provider/callback", s.oauthCallback)
	ig.PATCH("/:id", s.updateIntegration)
	ig.DELETE("/:id", s.disconnect)
	ig.POST("/:id/sync", s.triggerSync)
	ig.GET("/:id/status", s.status)
	ig.DELETE("/:id/events/:eventId", s.deleteEvent)
}

// ServeHTTP lets tests and callers mount the server on any listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("HTTP API listening", "addr", addr)
		errc <- s.echo.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving HTTP: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP: %w", err)
	}
	return nil
}

func (s *Server) health(c echo.Context) error {
	if s.ping != nil {
		if err := s.ping(c.Request().Context()); err != nil {
			s.log.Error("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
