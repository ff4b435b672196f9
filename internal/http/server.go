// Package http provides the HTTP API for askd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// Conversations is the conversation lifecycle served by the API.
// *orchestrator.Orchestrator implements it.
type Conversations interface {
	Start(ctx context.Context, query string, requester conversation.Requester) (*orchestrator.Result, error)
	Resume(ctx context.Context, id string, decision conversation.Decision, approverID string) (*orchestrator.Result, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*conversation.Context, error)
	List(ctx context.Context, status conversation.Status) ([]*conversation.Context, error)
}

// Server provides HTTP endpoints for askd.
type Server struct {
	echo          *echo.Echo
	conversations Conversations
	events        EventSource
	mcp           http.Handler
	logger        *logging.Logger
	config        *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Heartbeat is the interval of keep-alive comments on event streams.
	Heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithEventSource enables the conversation event stream.
func WithEventSource(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

// WithMCP mounts an MCP streamable HTTP handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// NewServer creates a new HTTP server.
func NewServer(conversations Conversations, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if conversations == nil {
		return nil, fmt.Errorf("conversations cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e)

	s := &Server{
		echo:          e,
		conversations: conversations,
		logger:        logger.Named("http"),
		config:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newRequestMetrics(nil, s.logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := c.Request().Context()
			if rid != "" {
				ctx = logging.WithRequestID(ctx, sanitizeRequestID(rid))
				c.SetRequest(c.Request().WithContext(ctx))
			}
			err := next(c)

			s.logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/conversations", s.handleStart)
	v1.GET("/conversations", s.handleList)
	v1.GET("/conversations/:id", s.handleGet)
	v1.POST("/conversations/:id/resume", s.handleResume)
	v1.POST("/conversations/:id/cancel", s.handleCancel)
	v1.GET("/conversations/:id/events", s.handleEvents)

	if s.mcp != nil {
		s.echo.Any("/mcp", echo.WrapHandler(s.mcp))
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// sanitizeRequestID keeps the characters accepted by logging.WithRequestID.
func sanitizeRequestID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		}
		if len(out) == 64 {
			break
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}
