// Package maintenance runs periodic housekeeping: removing abandoned
// .partial copy files and dropping finished jobs from the in-memory
// registry.
package maintenance

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/service/jobs"
)

// LayoutLoader loads the current storage layout.
type LayoutLoader func() (*layout.Layout, error)

// Config contains maintenance service configuration
type Config struct {
	// SweepInterval is how often to run cleanup tasks
	SweepInterval time.Duration

	// PartialFileMaxAge is the maximum age of .partial files before cleanup
	PartialFileMaxAge time.Duration

	// JobRetention is how long terminal jobs stay queryable
	JobRetention time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		SweepInterval:     time.Hour,
		PartialFileMaxAge: 24 * time.Hour,
		JobRetention:      24 * time.Hour,
	}
}

// Service handles periodic maintenance tasks
type Service struct {
	config     *Config
	loadLayout LayoutLoader
	jobs       *jobs.Manager
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, loadLayout LayoutLoader, jobManager *jobs.Manager, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.PartialFileMaxAge == 0 {
		cfg.PartialFileMaxAge = 24 * time.Hour
	}
	if cfg.JobRetention == 0 {
		cfg.JobRetention = 24 * time.Hour
	}

	return &Service{
		config:     cfg,
		loadLayout: loadLayout,
		jobs:       jobManager,
		logger:     logger,
	}
}

// Start starts the maintenance service
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("sweep_interval", s.config.SweepInterval),
		zap.Duration("job_retention", s.config.JobRetention))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupPartialFiles()
			s.cleanupFinishedJobs()
		}
	}
}

// cleanupFinishedJobs drops terminal jobs past the retention window
func (s *Service) cleanupFinishedJobs() {
	if removed := s.jobs.CleanupFinished(s.config.JobRetention); removed > 0 {
		s.logger.Info("dropped finished jobs", zap.Int("count", removed))
	}
}

// cleanupPartialFiles removes abandoned .partial files on both storage
// sides. A .partial file only survives a crash or kill mid-copy; anything
// older than the cutoff belongs to no live job.
func (s *Service) cleanupPartialFiles() {
	lay, err := s.loadLayout()
	if err != nil {
		s.logger.Error("failed to load layout for cleanup", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-s.config.PartialFileMaxAge)
	removed := 0

	roots := make([]string, 0, len(lay.LocalCategories)+len(lay.NetworkCategories))
	for category := range lay.LocalCategories {
		if root, err := lay.LocalCategoryRoot(category); err == nil {
			roots = append(roots, root)
		}
	}
	for category := range lay.NetworkCategories {
		if root, err := lay.NetworkCategoryRoot(category); err == nil {
			roots = append(roots, root)
		}
	}

	for _, root := range roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() {
				return nil
			}
			if !strings.Contains(d.Name(), ".partial.") {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.ModTime().After(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to remove stale partial file",
					zap.String("path", path), zap.Error(err))
				return nil
			}
			removed++
			return nil
		})
	}

	if removed > 0 {
		s.logger.Info("cleaned up stale partial files", zap.Int("count", removed))
	}
}
