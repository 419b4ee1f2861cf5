// Package api exposes the session and tooling registry over HTTP, with a
// websocket stream for run updates.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"workbench/internal/dispatch"
	"workbench/internal/session"
	"workbench/internal/tooling"
)

// Prober reports channel health; see dispatch.Dispatcher.Probe.
type Prober interface {
	Probe(ctx context.Context) dispatch.Health
}

type Options struct {
	Session *session.Session
	Tooling *tooling.Registry
	Prober  Prober
	Logger  *log.Logger
	// PingInterval paces websocket keepalives. Zero means 30s.
	PingInterval time.Duration
}

// Server is the HTTP front end of one session.
type Server struct {
	echo    *echo.Echo
	session *session.Session
	tooling *tooling.Registry
	prober  Prober
	logger  *log.Logger
	stream  *streamer
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("component", "api")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		session: opts.Session,
		tooling: opts.Tooling,
		prober:  opts.Prober,
		logger:  logger,
		stream:  newStreamer(opts.Session, opts.PingInterval, logger),
	}

	e.GET("/health", s.handleHealth)

	v1 := e.Group("/v1")
	v1.GET("/session", s.handleSession)
	v1.POST("/session/clear", s.handleClear)
	v1.POST("/chat", s.handleChat)
	v1.POST("/chat/retry", s.handleRetry)
	v1.PATCH("/settings", s.handleSettings)
	v1.PATCH("/settings/reminder", s.handleReminder)
	v1.POST("/actions/execute", s.handleExecute)
	v1.POST("/actions/execute-batch", s.handleExecuteBatch)
	v1.POST("/actions/:id/dismiss", s.handleDismiss)
	v1.GET("/audit", s.handleAudit)
	v1.GET("/capabilities", s.handleCapabilities)
	v1.GET("/stream", s.stream.handle)

	v1.GET("/tooling", s.handleTooling)
	v1.POST("/tooling/reload", s.handleToolingReload)
	v1.PUT("/tooling/mcp/:name", s.handleUpsertMCP)
	v1.DELETE("/tooling/mcp/:name", s.handleDeleteMCP)
	v1.POST("/tooling/skills/import", s.handleImportSkill)
	v1.PATCH("/tooling/skills/:id", s.handleToggleSkill)
	v1.DELETE("/tooling/skills/:id", s.handleDeleteSkill)
	v1.PUT("/tooling/commands/:slug", s.handleUpsertCommand)
	v1.DELETE("/tooling/commands/:slug", s.handleDeleteCommand)
	v1.POST("/tooling/commands/import", s.handleImportCommand)

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and closes open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.closeAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]interface{}{"status": "ok"}
	if s.prober != nil {
		health := s.prober.Probe(c.Request().Context())
		body["channels"] = health
		if !health.Structured.Available && !health.Process.Available {
			body["status"] = "degraded"
		}
	}
	return c.JSON(http.StatusOK, body)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var dispatchErr *dispatch.Error
	switch {
	case errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, session.ErrNoPriorInput),
		errors.Is(err, tooling.ErrInvalidManifest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotPending),
		errors.Is(err, tooling.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &dispatchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.Path(), "status", status, "error", err)
	}
	return errorJSON(c, status, err.Error())
}
