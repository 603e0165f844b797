// Package jobs implements the copy job engine: a registry of batch copy
// jobs processed by exactly one worker, so at most one copy is ever in
// flight. Submission is non-blocking; status and cancellation are served
// from snapshot copies under a shared lock.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/audit"
	"github.com/nolabel/model-localizer/internal/domain"
	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/service/pruner"
	"github.com/nolabel/model-localizer/internal/usage"
)

// LayoutLoader loads the current storage layout.
type LayoutLoader func() (*layout.Layout, error)

// Config contains job engine settings.
type Config struct {
	// ChunkSize is the copy chunk size; cancellation latency is bounded
	// by one chunk's I/O time.
	ChunkSize int64
	// ProgressLogInterval is the minimum spacing between progress log
	// lines. Pollers read bytes_done/bytes_total directly, unthrottled.
	ProgressLogInterval time.Duration
}

// DefaultConfig returns the default job engine settings.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:           16 * 1024 * 1024,
		ProgressLogInterval: 2 * time.Second,
	}
}

// Manager owns the job table and the single worker.
type Manager struct {
	cfg        *Config
	loadLayout LayoutLoader
	usage      *usage.Store
	audit      *audit.Log
	pruner     *pruner.Pruner
	logger     *zap.Logger

	// chunkHook, when non-nil, runs after every chunk write.
	chunkHook func()

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*domain.Job
	queue   []string
	stopped bool
}

// New creates a Manager. Call Start to run the worker.
func New(cfg *Config, loadLayout LayoutLoader, usageStore *usage.Store, auditLog *audit.Log, p *pruner.Pruner, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.ProgressLogInterval <= 0 {
		cfg.ProgressLogInterval = DefaultConfig().ProgressLogInterval
	}
	m := &Manager{
		cfg:        cfg,
		loadLayout: loadLayout,
		usage:      usageStore,
		audit:      auditLog,
		pruner:     p,
		logger:     logger,
		jobs:       make(map[string]*domain.Job),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start runs the worker loop until the context is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.Stop()
	}()

	for {
		id, ok := m.next()
		if !ok {
			return ctx.Err()
		}
		m.runJob(ctx, id)
	}
}

// Stop wakes the worker so it can observe shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cond.Broadcast()
}

// next blocks until a job is queued or the manager stops.
func (m *Manager) next() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.stopped {
		m.cond.Wait()
	}
	if m.stopped {
		return "", false
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	return id, true
}

// Create registers a new job and enqueues it for the worker.
// Returns the job id immediately.
func (m *Manager) Create(items []domain.ItemRef, overwrite bool, direction domain.Direction) string {
	job := &domain.Job{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		State:     domain.JobQueued,
		Items:     append([]domain.ItemRef(nil), items...),
		Overwrite: overwrite,
		Direction: direction,
		Message:   "Queued",
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.queue = append(m.queue, job.ID)
	m.mu.Unlock()
	m.cond.Broadcast()

	m.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("direction", string(direction)),
		zap.Int("items", len(items)),
		zap.Bool("overwrite", overwrite))
	return job.ID
}

// Get returns a snapshot of the job, or false if the id is unknown.
func (m *Manager) Get(id string) (*domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// ActiveJobID returns the most recently created queued or running job id,
// or "" when the engine is idle.
func (m *Manager) ActiveJobID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []*domain.Job
	for _, job := range m.jobs {
		if !job.State.Terminal() {
			active = append(active, job)
		}
	}
	if len(active) == 0 {
		return ""
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active[0].ID
}

// Cancel requests cooperative cancellation. The job only stops at the
// next checked point (item boundary or chunk boundary).
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false
	}
	job.CancelRequested = true
	return true
}

// CleanupFinished drops terminal jobs older than the cutoff from the
// registry and returns how many were removed. Active jobs are never
// dropped.
func (m *Manager) CleanupFinished(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, job := range m.jobs {
		if job.State.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// update applies fn to the job under the lock.
func (m *Manager) update(id string, fn func(*domain.Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

// cancelled reports whether the job was asked to stop, either by a cancel
// call or by engine shutdown.
func (m *Manager) cancelled(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return ok && job.CancelRequested
}
