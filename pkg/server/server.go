package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/noteflow-ai/quotad/pkg/config"
	"github.com/noteflow-ai/quotad/pkg/quota"
	"github.com/noteflow-ai/quotad/pkg/quota/admin"
)

// Server is the HTTP API server for the quota engine.
type Server struct {
	config         *config.ServerConfig
	guard          *quota.Guard
	admin          *admin.Service
	metricsHandler http.Handler
	logger         *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server. metricsHandler may be nil when metrics are
// disabled.
func NewServer(cfg *config.ServerConfig, guard *quota.Guard, adminSvc *admin.Service, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:         cfg,
		guard:          guard,
		admin:          adminSvc,
		metricsHandler: metricsHandler,
		logger:         logger.With("component", "server"),
	}
}

// Start starts the HTTP server and blocks until shutdown (signal or context
// cancellation).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting quota server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		s.logger.Info("server stopped")
	})
	return err
}

// setupRoutes builds the request router.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/quota/check", s.handleCheck)
	mux.HandleFunc("POST /v1/quota/release", s.handleRelease)

	mux.HandleFunc("GET /v1/admin/usage/{account}", s.handleGetUsage)
	mux.HandleFunc("POST /v1/admin/usage/{account}/reset", s.handleResetUsage)
	mux.HandleFunc("PUT /v1/admin/limits/{account}", s.handleSetLimit)
	mux.HandleFunc("DELETE /v1/admin/limits/{account}", s.handleClearLimit)
	mux.HandleFunc("GET /v1/admin/audit", s.handleAudit)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	return mux
}
