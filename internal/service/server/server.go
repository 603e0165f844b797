// Package server exposes the cache operations over a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/audit"
	"github.com/nolabel/model-localizer/internal/domain"
	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/service/jobs"
	"github.com/nolabel/model-localizer/internal/service/pruner"
	"github.com/nolabel/model-localizer/internal/service/scanner"
	"github.com/nolabel/model-localizer/internal/usage"
	"github.com/nolabel/model-localizer/internal/workflow"
)

// LayoutLoader loads the current storage layout.
type LayoutLoader func() (*layout.Layout, error)

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	EnableAuth   bool
	AuthUsername string
	AuthPassword string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8188",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Deps are the services the API routes to.
type Deps struct {
	LoadLayout LayoutLoader
	Usage      *usage.Store
	Audit      *audit.Log
	Scanner    *scanner.Scanner
	Jobs       *jobs.Manager
	Pruner     *pruner.Pruner
	Workflow   *workflow.Store
}

// Server represents the HTTP API server
type Server struct {
	config          *Config
	logger          *zap.Logger
	server          *http.Server
	cacheHandler    *CacheHandler
	workflowHandler *WorkflowHandler
}

// New creates a new HTTP server
func New(cfg *Config, deps Deps, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		logger: logger,
	}

	s.cacheHandler = NewCacheHandler(deps, logger)
	s.workflowHandler = NewWorkflowHandler(deps.Workflow, logger)

	guard := func(next http.HandlerFunc) http.HandlerFunc { return next }
	if cfg.EnableAuth {
		guard = BasicAuthMiddleware(cfg.AuthUsername, cfg.AuthPassword, logger)
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Cache operations
	mux.HandleFunc("POST /api/v1/scan", guard(s.cacheHandler.HandleScan))
	mux.HandleFunc("GET /api/v1/cache", guard(s.cacheHandler.HandleCacheList))
	mux.HandleFunc("POST /api/v1/localize", guard(s.cacheHandler.HandleLocalize))
	mux.HandleFunc("POST /api/v1/upload", guard(s.cacheHandler.HandleUpload))
	mux.HandleFunc("POST /api/v1/delete", guard(s.cacheHandler.HandleDelete))
	mux.HandleFunc("POST /api/v1/prune", guard(s.cacheHandler.HandlePrune))
	mux.HandleFunc("GET /api/v1/settings", guard(s.cacheHandler.HandleGetSettings))
	mux.HandleFunc("POST /api/v1/settings", guard(s.cacheHandler.HandleSetSettings))
	mux.HandleFunc("GET /api/v1/log", guard(s.cacheHandler.HandleLog))

	// Jobs
	mux.HandleFunc("GET /api/v1/jobs/active", guard(s.cacheHandler.HandleActiveJob))
	mux.HandleFunc("GET /api/v1/jobs/{id}", guard(s.cacheHandler.HandleJobStatus))
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", guard(s.cacheHandler.HandleJobCancel))

	// Shot path builder
	mux.HandleFunc("POST /api/v1/shotpath", guard(s.workflowHandler.HandleShotPath))

	// Workflow context, defaults and history
	mux.HandleFunc("GET /api/v1/workflow/context", guard(s.workflowHandler.HandleGetContext))
	mux.HandleFunc("POST /api/v1/workflow/context", guard(s.workflowHandler.HandlePopulateContext))
	mux.HandleFunc("GET /api/v1/workflow/defaults", guard(s.workflowHandler.HandleGetDefaults))
	mux.HandleFunc("POST /api/v1/workflow/defaults", guard(s.workflowHandler.HandleSetDefaults))
	mux.HandleFunc("DELETE /api/v1/workflow/defaults", guard(s.workflowHandler.HandleResetDefaults))
	mux.HandleFunc("GET /api/v1/workflow/history", guard(s.workflowHandler.HandleHistory))
	mux.HandleFunc("POST /api/v1/workflow/history", guard(s.workflowHandler.HandleCommitHistory))
	mux.HandleFunc("DELETE /api/v1/workflow/history", guard(s.workflowHandler.HandleClearHistory))
	mux.HandleFunc("DELETE /api/v1/workflow/history/{id}", guard(s.workflowHandler.HandleDeleteHistory))

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps an operation error to an HTTP status. Layout and
// path problems are configuration errors the caller can fix, so they
// are reported as 400 rather than 500.
func errorStatus(err error) int {
	for _, sentinel := range []error{
		domain.ErrLayoutNotFound,
		domain.ErrLayoutInvalid,
		domain.ErrCategoryNotMapped,
		domain.ErrInvalidRelpath,
		domain.ErrPathEscape,
	} {
		if errors.Is(err, sentinel) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
