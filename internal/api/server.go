package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"Agent-Arena/internal/agent"
	"Agent-Arena/internal/auth"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/observability/metrics"
	"Agent-Arena/internal/run"
	"Agent-Arena/pkg/logger"
)

// RunService is the run lifecycle the API drives.
type RunService interface {
	Submit(ctx context.Context, cfg agent.RunConfig) (*run.Run, error)
	Get(ctx context.Context, id string) (*run.Run, error)
	List(ctx context.Context, opts ...run.ListOption) ([]*run.Run, error)
}

// EventSource reads event streams and accepts user prompts.
type EventSource interface {
	SubmitPrompt(ctx context.Context, runID, text string) (events.Prompt, error)
	ListEvents(ctx context.Context, runID string, limit int) ([]events.Event, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the REST API.
type Server struct {
	addr    string
	runs    RunService
	events  EventSource
	pingers []Pinger
	keys    *auth.Keys
	router  *gin.Engine
	logger  *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithHealthChecks adds dependencies probed by /healthz.
func WithHealthChecks(p ...Pinger) Option {
	return func(s *Server) { s.pingers = append(s.pingers, p...) }
}

// WithAPIKeys requires one of keys on every /api/v1 request.
func WithAPIKeys(keys ...string) Option {
	return func(s *Server) { s.keys = auth.NewKeys(keys...) }
}

// NewServer builds the router.
func NewServer(addr string, runs RunService, evs EventSource, opts ...Option) *Server {
	s := &Server{addr: addr, runs: runs, events: evs, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	if s.keys.Enabled() {
		v1.Use(s.keys.Middleware())
	}
	v1.POST("/runs", s.handleSubmitRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/prompts", s.handleSubmitPrompt)
	v1.GET("/runs/:id/events", s.handleListEvents)

	s.router = router
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		metrics.ObserveHTTPRequest(route, c.Request.Method, status, dur)
		s.logger.Debug("http request", "method", c.Request.Method, "route", route,
			"status", status, "duration", dur.String(), "client", c.ClientIP())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	for _, p := range s.pingers {
		if err := p.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
