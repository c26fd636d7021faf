// Package api exposes the session engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dyluth/quill/internal/metrics"
	"github.com/dyluth/quill/internal/participant"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server serves the session API, health checks and metrics.
type Server struct {
	engine     *participant.Engine
	staleAfter time.Duration
	router     *gin.Engine
	server     *http.Server
	logger     zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStaleAfter sets the heartbeat age after which the sweep endpoint marks
// a participant disconnected. Defaults to 30s.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) { s.staleAfter = d }
}

// NewServer builds the router for engine. Routes are registered immediately so
// Handler can be used without Start.
func NewServer(engine *participant.Engine, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		engine:     engine,
		staleAfter: 30 * time.Second,
		logger:     logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger)

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1/sessions")
	v1.POST("/join", s.handleJoin)
	v1.GET("/:id", s.handleGet)
	v1.POST("/:id/promote", s.handlePromote)
	v1.POST("/:id/submissions", s.handleSubmit)
	v1.POST("/:id/players/:uid/heartbeat", s.handleHeartbeat)
	v1.POST("/:id/players/:uid/disconnect", s.handleDisconnect)
	v1.POST("/:id/sweep", s.handleSweep)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server on addr in the background.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("event_type", "server_error").Msg("http server stopped")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("http server listening")
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	path := c.Request.URL.Path
	if path == "/healthz" || path == "/metrics" {
		return
	}
	s.logger.Debug().
		Str("method", c.Request.Method).
		Str("path", path).
		Int("status", c.Writer.Status()).
		Dur("dur", time.Since(start)).
		Msg("http")
}
