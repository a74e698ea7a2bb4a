package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gantryd/gantry/internal/application/scheduler"
	"github.com/gantryd/gantry/internal/application/work"
	"github.com/gantryd/gantry/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	engine   *scheduler.Engine
	sink     ports.ResultSink
	handlers *work.Registry
	logger   *zap.Logger

	defaultDeadline    time.Duration
	defaultConcurrency int
}

// Config holds HTTP server configuration
type Config struct {
	Port     int
	Engine   *scheduler.Engine
	Sink     ports.ResultSink
	Handlers *work.Registry
	Logger   *zap.Logger

	DefaultDeadline    time.Duration
	DefaultConcurrency int
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:             router,
		engine:             cfg.Engine,
		sink:               cfg.Sink,
		handlers:           cfg.Handlers,
		logger:             cfg.Logger,
		defaultDeadline:    cfg.DefaultDeadline,
		defaultConcurrency: cfg.DefaultConcurrency,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/runs", s.handleSubmitRun)
		v1.GET("/runs/:id/status", s.handleGetStatus)
		v1.GET("/runs/:id/results/:node", s.handleGetResult)
		v1.POST("/runs/:id/stop", s.handleStopRun)
	}
}

// SetupWebSocket adds the event-stream WebSocket handler to the server.
func (s *Server) SetupWebSocket(handler interface {
	HandleEventStream(*gin.Context)
}) {
	s.router.GET("/api/v1/events", handler.HandleEventStream)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
