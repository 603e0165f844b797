package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/audit"
	"github.com/nolabel/model-localizer/internal/domain"
	"github.com/nolabel/model-localizer/internal/fsutil"
	"github.com/nolabel/model-localizer/internal/layout"
)

// copyItem is one resolved file the worker will copy.
type copyItem struct {
	ref        domain.ItemRef
	sourcePath string
	destPath   string
	size       int64
}

// runJob processes one job to a terminal state.
func (m *Manager) runJob(ctx context.Context, id string) {
	m.logger.Info("job starting", zap.String("job_id", id))
	m.update(id, func(j *domain.Job) {
		j.State = domain.JobRunning
		j.Message = "Starting"
	})

	job, ok := m.Get(id)
	if !ok {
		return
	}

	if !job.Direction.Valid() {
		m.finish(id, domain.JobError, domain.ErrKindConfig,
			fmt.Sprintf("Unknown job direction: %s", job.Direction))
		return
	}

	lay, err := m.loadLayout()
	if err != nil {
		m.finish(id, domain.JobError, domain.ErrKindConfig, err.Error())
		return
	}

	toCopy, totalBytes, ok := m.buildCopyList(ctx, id, lay, job)
	if !ok {
		return
	}

	if len(toCopy) == 0 {
		message := "Nothing to localize"
		if job.Direction == domain.DirectionUpload {
			message = "Nothing to upload"
		}
		m.update(id, func(j *domain.Job) {
			j.State = domain.JobDone
			j.BytesTotal = 0
			j.Message = message
		})
		m.logger.Info("job finished with no work", zap.String("job_id", id))
		return
	}

	m.update(id, func(j *domain.Job) {
		j.BytesTotal = totalBytes
		j.BytesDone = 0
	})
	m.logger.Info("job copy list ready",
		zap.String("job_id", id),
		zap.Int("files", len(toCopy)),
		zap.String("total", humanize.IBytes(uint64(totalBytes))))

	action := audit.ActionLocalize
	if job.Direction == domain.DirectionUpload {
		action = audit.ActionUpload
	}
	progress := &progressLogger{
		logger:      m.logger,
		interval:    m.cfg.ProgressLogInterval,
		lastLog:     time.Now(),
		lastPercent: -1,
	}

	var bytesDone int64
	var copied []domain.ItemRef
	for _, item := range toCopy {
		if m.cancelled(ctx, id) {
			m.finish(id, domain.JobCancelled, domain.ErrKindCancelled, "Cancelled")
			return
		}

		ref := item.ref
		m.update(id, func(j *domain.Job) {
			j.CurrentItem = &ref
			j.Message = fmt.Sprintf("%s %s", job.Direction.Verb(), ref.Key())
		})
		m.logger.Info("copying file",
			zap.String("job_id", id),
			zap.String("item", ref.Key()),
			zap.String("size", humanize.IBytes(uint64(item.size))))

		if err := m.copyFile(ctx, id, item, totalBytes, &bytesDone, progress); err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				m.finish(id, domain.JobCancelled, domain.ErrKindCancelled, "Cancelled")
				return
			}
			m.finish(id, domain.JobError, domain.ErrKindIO, err.Error())
			return
		}

		if err := m.audit.Copy(action, "manual", ref, item.size, job.Overwrite); err != nil {
			m.logger.Warn("failed to append audit entry",
				zap.String("job_id", id), zap.Error(err))
		}
		copied = append(copied, ref)
	}

	kind := domain.UsageLocalize
	if job.Direction == domain.DirectionUpload {
		kind = domain.UsageUpload
	}
	if err := m.usage.Record(copied, kind); err != nil {
		m.logger.Warn("failed to record usage", zap.String("job_id", id), zap.Error(err))
	}

	m.finishSuccess(id, job.Direction)
}

// buildCopyList resolves and filters the requested items. Per-item
// validation failures drop the item; a missing or unreadable source
// fails the whole batch before any bytes are copied. The third return
// is false when the job reached a terminal state.
func (m *Manager) buildCopyList(ctx context.Context, id string, lay *layout.Layout, job *domain.Job) ([]copyItem, int64, bool) {
	var toCopy []copyItem
	var totalBytes int64

	for _, item := range job.Items {
		if m.cancelled(ctx, id) {
			m.finish(id, domain.JobCancelled, domain.ErrKindCancelled, "Cancelled")
			return nil, 0, false
		}

		relpath, err := layout.NormalizeRelpath(item.Relpath)
		if err != nil || item.Category == "" {
			continue
		}

		localPath, err := lay.LocalPath(item.Category, relpath)
		if err != nil {
			continue
		}
		networkPath, err := lay.NetworkPath(item.Category, relpath)
		if err != nil {
			continue
		}

		sourcePath, destPath := networkPath, localPath
		missingLabel := "Network"
		if job.Direction == domain.DirectionUpload {
			sourcePath, destPath = localPath, networkPath
			missingLabel = "Local"
		}

		ref := domain.ItemRef{Category: item.Category, Relpath: relpath}
		if !fsutil.IsFile(sourcePath) {
			m.finish(id, domain.JobError, domain.ErrKindMissingSource,
				fmt.Sprintf("%s file missing: %s", missingLabel, ref.Key()))
			return nil, 0, false
		}

		sourceSize, ok := fsutil.FileSize(sourcePath)
		if !ok {
			m.finish(id, domain.JobError, domain.ErrKindSizeUnreadable,
				fmt.Sprintf("Unable to read size for %s", ref.Key()))
			return nil, 0, false
		}

		if destSize, ok := fsutil.FileSize(destPath); ok && destSize == sourceSize && !job.Overwrite {
			continue
		}

		totalBytes += sourceSize
		toCopy = append(toCopy, copyItem{
			ref:        ref,
			sourcePath: sourcePath,
			destPath:   destPath,
			size:       sourceSize,
		})
	}
	return toCopy, totalBytes, true
}

// copyFile streams the source to a .partial sibling in chunks, syncs it
// and atomically renames it over the destination. The rename is the only
// visible mutation of the destination; on cancellation or failure the
// partial file is removed.
func (m *Manager) copyFile(ctx context.Context, id string, item copyItem, totalBytes int64, bytesDone *int64, progress *progressLogger) error {
	tempPath := fmt.Sprintf("%s.partial.%s", item.destPath, id)

	if err := os.MkdirAll(filepath.Dir(item.destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination dir: %w", err)
	}

	src, err := os.Open(item.sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create partial file: %w", err)
	}

	cleanup := func() {
		dst.Close()
		os.Remove(tempPath)
	}

	buf := make([]byte, m.cfg.ChunkSize)
	for {
		if m.cancelled(ctx, id) {
			cleanup()
			return domain.ErrCancelled
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				cleanup()
				return fmt.Errorf("write failed: %w", werr)
			}
			*bytesDone += int64(n)
			done := *bytesDone
			m.update(id, func(j *domain.Job) { j.BytesDone = done })
			progress.maybeLog(id, done, totalBytes)
			if m.chunkHook != nil {
				m.chunkHook()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			cleanup()
			return fmt.Errorf("read failed: %w", rerr)
		}
	}

	// Durable before visible: sync the partial file, then rename it over
	// the destination so a reader never observes a truncated file.
	if err := dst.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync failed: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close failed: %w", err)
	}
	if err := os.Rename(tempPath, item.destPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

// finish moves the job to a terminal state.
func (m *Manager) finish(id string, state domain.JobState, kind domain.ErrorKind, message string) {
	m.update(id, func(j *domain.Job) {
		j.State = state
		j.ErrorKind = kind
		j.Message = message
		j.CurrentItem = nil
	})
	switch state {
	case domain.JobCancelled:
		m.logger.Info("job cancelled", zap.String("job_id", id))
	case domain.JobError:
		m.logger.Error("job failed",
			zap.String("job_id", id),
			zap.String("error_kind", string(kind)),
			zap.String("message", message))
	}
}

// finishSuccess completes the job, running auto-eviction after a
// successful localize when enabled.
func (m *Manager) finishSuccess(id string, direction domain.Direction) {
	if direction == domain.DirectionUpload {
		m.finish(id, domain.JobDone, domain.ErrKindNone, "Upload complete")
		m.logger.Info("job complete", zap.String("job_id", id))
		return
	}

	message := "Localization complete"
	settings := m.usage.Settings()
	if m.pruner != nil && settings.AutoDeleteEnabled && settings.MaxCacheBytes > 0 {
		result, err := m.pruner.PlanAndExecute(settings.MaxCacheBytes, "auto")
		switch {
		case err != nil:
			m.logger.Warn("auto prune failed", zap.String("job_id", id), zap.Error(err))
		case result.BytesFreed > 0:
			message = fmt.Sprintf("Localization complete (pruned %s)",
				humanize.IBytes(uint64(result.BytesFreed)))
		}
	}
	m.finish(id, domain.JobDone, domain.ErrKindNone, message)
	m.logger.Info("job complete", zap.String("job_id", id))
}

// progressLogger emits at most one log line per distinct integer percent
// and no more often than the configured interval.
type progressLogger struct {
	logger      *zap.Logger
	interval    time.Duration
	lastLog     time.Time
	lastPercent int
}

func (p *progressLogger) maybeLog(id string, bytesDone, bytesTotal int64) {
	percent := 0
	if bytesTotal > 0 {
		percent = int(float64(bytesDone) / float64(bytesTotal) * 100)
	}
	if percent == p.lastPercent || time.Since(p.lastLog) < p.interval {
		return
	}
	p.lastPercent = percent
	p.lastLog = time.Now()
	p.logger.Info("job progress",
		zap.String("job_id", id),
		zap.Int("percent", percent),
		zap.String("done", humanize.IBytes(uint64(bytesDone))),
		zap.String("total", humanize.IBytes(uint64(bytesTotal))))
}
