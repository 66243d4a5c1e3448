package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/workers"
	"github.com/aescanero/modkernel/internal/kernel"
)

// Server represents the HTTP API server
type Server struct {
	router         *gin.Engine
	server         *http.Server
	kernel         *kernel.Kernel
	pool           *workers.Pool
	requestTimeout time.Duration
	logger         *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port   int
	Kernel *kernel.Kernel
	// Pool is reported by the workers endpoint when set
	Pool *workers.Pool
	// Metrics serves /metrics; the default Prometheus registry when nil
	Metrics http.Handler
	// RequestTimeout bounds how long a request group is awaited
	RequestTimeout time.Duration
	ServiceName    string
	Logger         *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	service := cfg.ServiceName
	if service == "" {
		service = "modkernel"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))
	router.Use(corsMiddleware())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{
		router:         router,
		kernel:         cfg.Kernel,
		pool:           cfg.Pool,
		requestTimeout: timeout,
		logger:         cfg.Logger,
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/modules", s.handleListModules)
		v1.GET("/modules/:coordinate", s.handleGetModule)
		v1.POST("/modules/:coordinate/:action", s.handleModuleAction)

		v1.POST("/install", s.handleInstall)
		v1.POST("/lifecycle", s.handleLifecycle)
		v1.GET("/schedule", s.handleSchedule)

		v1.GET("/kernel", s.handleKernelStatus)
		v1.POST("/kernel/reload", s.handleReload)

		v1.GET("/workers", s.handleWorkers)
	}
}

// SetupWebSocket adds the event stream handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleEventStream(*gin.Context)
}) {
	s.router.GET("/api/v1/events/ws", handler.HandleEventStream)
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
