// Package pruner evicts least-recently-used local model files until the
// cache is under a byte budget.
package pruner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/audit"
	"github.com/nolabel/model-localizer/internal/domain"
	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/usage"
)

// LayoutLoader loads the current storage layout. Injected so every run
// sees the layout file as it is on disk.
type LayoutLoader func() (*layout.Layout, error)

// Pruner plans and executes cache eviction runs.
type Pruner struct {
	loadLayout LayoutLoader
	usage      *usage.Store
	audit      *audit.Log
	logger     *zap.Logger
}

// New creates a Pruner.
func New(loadLayout LayoutLoader, usageStore *usage.Store, auditLog *audit.Log, logger *zap.Logger) *Pruner {
	return &Pruner{
		loadLayout: loadLayout,
		usage:      usageStore,
		audit:      auditLog,
		logger:     logger,
	}
}

// candidate is one local model file considered for eviction.
type candidate struct {
	lastUsed int64
	category string
	relpath  string
	path     string
	size     int64
}

// PlanAndExecute walks every configured local category directory, ranks
// model files by last use (never-recorded files rank oldest) and deletes
// the least recently used until the total is under maxCacheBytes.
// maxCacheBytes <= 0 means no budget: nothing is ever removed. Files
// with identical last-use times are removed in category/relpath order.
func (p *Pruner) PlanAndExecute(maxCacheBytes int64, source string) (*domain.PruneResult, error) {
	lay, err := p.loadLayout()
	if err != nil {
		return nil, err
	}

	records, _ := p.usage.Snapshot()

	var candidates []candidate
	var totalBytes int64
	for category := range lay.LocalCategories {
		root, err := lay.LocalCategoryRoot(category)
		if err != nil {
			continue
		}
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() || !layout.IsModelFile(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			relpath := filepath.ToSlash(rel)
			rec := records[domain.ItemRef{Category: category, Relpath: relpath}.Key()]
			candidates = append(candidates, candidate{
				lastUsed: rec.LastUsed(),
				category: category,
				relpath:  relpath,
				path:     path,
				size:     info.Size(),
			})
			totalBytes += info.Size()
			return nil
		})
	}

	result := &domain.PruneResult{
		Removed:     []domain.PrunedItem{},
		BytesBefore: totalBytes,
		BytesAfter:  totalBytes,
	}
	if maxCacheBytes <= 0 || totalBytes <= maxCacheBytes {
		return result, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastUsed != candidates[j].lastUsed {
			return candidates[i].lastUsed < candidates[j].lastUsed
		}
		if candidates[i].category != candidates[j].category {
			return candidates[i].category < candidates[j].category
		}
		return candidates[i].relpath < candidates[j].relpath
	})

	var bytesFreed int64
	for _, cand := range candidates {
		if totalBytes-bytesFreed <= maxCacheBytes {
			break
		}
		if err := os.Remove(cand.path); err != nil {
			// Skip and move on; the file keeps occupying budget.
			p.logger.Warn("failed to remove cached file",
				zap.String("path", cand.path),
				zap.Error(err))
			continue
		}
		bytesFreed += cand.size
		result.Removed = append(result.Removed, domain.PrunedItem{
			Category: cand.category,
			Relpath:  cand.relpath,
			Bytes:    cand.size,
		})
		if err := p.usage.Remove(cand.category, cand.relpath); err != nil {
			p.logger.Warn("failed to remove usage record",
				zap.String("category", cand.category),
				zap.String("relpath", cand.relpath),
				zap.Error(err))
		}
		p.logger.Info("pruned cached file",
			zap.String("category", cand.category),
			zap.String("relpath", cand.relpath),
			zap.Int64("size", cand.size))
	}

	result.BytesFreed = bytesFreed
	result.BytesAfter = max(0, totalBytes-bytesFreed)

	if len(result.Removed) > 0 {
		if err := p.audit.Prune(source, maxCacheBytes, result); err != nil {
			p.logger.Warn("failed to append prune audit entry", zap.Error(err))
		}
		p.logger.Info("prune completed",
			zap.String("source", source),
			zap.Int("removed", len(result.Removed)),
			zap.Int64("bytes_freed", bytesFreed),
			zap.Int64("bytes_after", result.BytesAfter))
	}
	return result, nil
}
