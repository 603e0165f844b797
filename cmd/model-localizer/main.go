package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/audit"
	"github.com/nolabel/model-localizer/internal/config"
	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/logger"
	"github.com/nolabel/model-localizer/internal/service/jobs"
	"github.com/nolabel/model-localizer/internal/service/maintenance"
	"github.com/nolabel/model-localizer/internal/service/pruner"
	"github.com/nolabel/model-localizer/internal/service/scanner"
	"github.com/nolabel/model-localizer/internal/service/server"
	"github.com/nolabel/model-localizer/internal/usage"
	"github.com/nolabel/model-localizer/internal/workflow"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var fileCfg *logger.FileConfig
	if cfg.Logging.File != "" {
		fileCfg = &logger.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		}
	}
	if err := logger.InitWithFile(cfg.Logging.Level, cfg.Logging.Format, fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting model-localizer",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// The layout file is edited externally, so every operation re-reads it.
	layoutPath := cfg.Storage.LayoutPath
	loadLayout := func() (*layout.Layout, error) {
		return layout.Load(layoutPath)
	}
	if _, err := loadLayout(); err != nil {
		zapLogger.Warn("storage layout not loadable yet", zap.Error(err))
	}

	// State-backed stores
	usageStore := usage.NewStore(filepath.Join(cfg.State.Dir, "usage.json"))
	auditLog := audit.New(filepath.Join(cfg.State.Dir, "audit.log"))
	workflowStore := workflow.NewStore(cfg.State.Dir)

	// Create services
	prunerService := pruner.New(loadLayout, usageStore, auditLog, zapLogger)
	scannerService := scanner.New(loadLayout, usageStore, zapLogger)

	jobsCfg := &jobs.Config{
		ChunkSize:           cfg.Jobs.GetChunkSize(),
		ProgressLogInterval: cfg.Jobs.GetProgressLogInterval(),
	}
	jobManager := jobs.New(jobsCfg, loadLayout, usageStore, auditLog, prunerService, zapLogger)

	maintenanceCfg := &maintenance.Config{
		SweepInterval:     cfg.Maintenance.GetSweepInterval(),
		PartialFileMaxAge: cfg.Maintenance.GetPartialFileMaxAge(),
		JobRetention:      cfg.Maintenance.GetJobRetention(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, loadLayout, jobManager, zapLogger)

	// Create HTTP server
	serverCfg := &server.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		EnableAuth:   cfg.HTTP.EnableAuth,
		AuthUsername: cfg.HTTP.AuthUsername,
		AuthPassword: cfg.HTTP.AuthPassword,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  cfg.HTTP.GetIdleTimeout(),
	}
	httpServer := server.New(serverCfg, server.Deps{
		LoadLayout: loadLayout,
		Usage:      usageStore,
		Audit:      auditLog,
		Scanner:    scannerService,
		Jobs:       jobManager,
		Pruner:     prunerService,
		Workflow:   workflowStore,
	}, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start job worker
	go func() {
		if err := jobManager.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("job worker stopped with error", zap.Error(err))
		}
	}()

	// Start maintenance service
	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("layout_path", layoutPath),
		zap.String("state_dir", cfg.State.Dir),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	// Cancel context to stop the worker and maintenance loops
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop background services
	jobManager.Stop()
	maintenanceService.Stop()

	// Stop HTTP server
	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	zapLogger.Info("application stopped successfully")
}
