// Package scanner reconciles workflow-referenced model names against the
// on-disk layout and lists the local cache contents.
package scanner

import (
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/domain"
	"github.com/nolabel/model-localizer/internal/fsutil"
	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/usage"
)

// LayoutLoader loads the current storage layout.
type LayoutLoader func() (*layout.Layout, error)

// Scanner resolves candidate model names against both storage sides.
type Scanner struct {
	loadLayout LayoutLoader
	usage      *usage.Store
	logger     *zap.Logger
}

// New creates a Scanner.
func New(loadLayout LayoutLoader, usageStore *usage.Store, logger *zap.Logger) *Scanner {
	return &Scanner{loadLayout: loadLayout, usage: usageStore, logger: logger}
}

// ScanResult is the outcome of matching candidate strings.
type ScanResult struct {
	LocalBase      string             `json:"local_base"`
	NetworkBase    string             `json:"network_base"`
	CacheSizeBytes int64              `json:"cache_size_bytes"`
	CacheSizeHuman string             `json:"cache_size_human"`
	Items          []domain.CacheItem `json:"items"`
}

// Scan matches each candidate string against every configured category,
// trying relpath variants in order. Categories are tried in lexicographic
// order and the first match wins; (category, relpath) pairs are reported
// once. Candidates that exist on neither side are dropped. Every matched
// item is recorded as a workflow reference.
func (s *Scanner) Scan(candidates []string) (*ScanResult, error) {
	lay, err := s.loadLayout()
	if err != nil {
		return nil, err
	}

	items := []domain.CacheItem{}
	seen := make(map[domain.ItemRef]struct{})

	for _, candidate := range candidates {
	categories:
		for _, category := range lay.Categories() {
			_, hasLocal := lay.LocalCategories[category]
			_, hasNetwork := lay.NetworkCategories[category]
			if !hasLocal && !hasNetwork {
				continue
			}

			for _, relpath := range layout.CandidateRelpaths(candidate, category) {
				if !layout.IsModelFile(relpath) {
					continue
				}
				item, ok := s.resolveItem(lay, category, relpath, hasLocal, hasNetwork)
				if !ok {
					continue
				}
				if _, dup := seen[item.Ref()]; dup {
					continue
				}
				seen[item.Ref()] = struct{}{}
				items = append(items, item)
				break categories
			}
		}
	}

	refs := make([]domain.ItemRef, 0, len(items))
	for i := range items {
		refs = append(refs, items[i].Ref())
	}
	if err := s.usage.Record(refs, domain.UsageWorkflow); err != nil {
		s.logger.Warn("failed to record workflow usage", zap.Error(err))
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Relpath < items[j].Relpath
	})

	cacheSize := fsutil.DirSize(lay.LocalRoot)
	return &ScanResult{
		LocalBase:      lay.LocalRoot,
		NetworkBase:    lay.NetworkRoot,
		CacheSizeBytes: cacheSize,
		CacheSizeHuman: humanize.IBytes(uint64(cacheSize)),
		Items:          items,
	}, nil
}

// resolveItem builds a CacheItem for (category, relpath), reporting false
// when the paths cannot be resolved or the file exists on neither side.
func (s *Scanner) resolveItem(lay *layout.Layout, category, relpath string, hasLocal, hasNetwork bool) (domain.CacheItem, bool) {
	var localPath, networkPath string
	var err error

	if hasLocal {
		if localPath, err = lay.LocalPath(category, relpath); err != nil {
			return domain.CacheItem{}, false
		}
	}
	if hasNetwork {
		if networkPath, err = lay.NetworkPath(category, relpath); err != nil {
			return domain.CacheItem{}, false
		}
	}

	localExists := fsutil.IsFile(localPath)
	networkExists := fsutil.IsFile(networkPath)
	if !localExists && !networkExists {
		return domain.CacheItem{}, false
	}

	var localSize, networkSize *int64
	if localExists {
		if size, ok := fsutil.FileSize(localPath); ok {
			localSize = &size
		}
	}
	if networkExists {
		if size, ok := fsutil.FileSize(networkPath); ok {
			networkSize = &size
		}
	}

	return domain.CacheItem{
		Category:      category,
		Relpath:       relpath,
		LocalPath:     localPath,
		NetworkPath:   networkPath,
		LocalExists:   localExists,
		NetworkExists: networkExists,
		LocalSize:     localSize,
		NetworkSize:   networkSize,
		Status:        domain.ClassifyStatus(localExists, networkExists, localSize, networkSize),
	}, true
}

// ListEntry is one locally cached file with its usage record.
type ListEntry struct {
	domain.CacheItem
	Usage      domain.UsageRecord `json:"usage"`
	UsageScore uint64             `json:"usage_score"`
	LastUsed   int64              `json:"last_used"`
}

// ListResult is the full local cache listing.
type ListResult struct {
	LocalBase      string          `json:"local_base"`
	NetworkBase    string          `json:"network_base"`
	CacheSizeBytes int64           `json:"cache_size_bytes"`
	CacheSizeHuman string          `json:"cache_size_human"`
	Items          []ListEntry     `json:"items"`
	Settings       domain.Settings `json:"settings"`
}

// ListLocal walks every local category directory and returns each cached
// model file, ordered by total hits descending, then last use descending,
// then category/relpath ascending.
func (s *Scanner) ListLocal() (*ListResult, error) {
	lay, err := s.loadLayout()
	if err != nil {
		return nil, err
	}

	records, settings := s.usage.Snapshot()

	items := []ListEntry{}
	for category := range lay.LocalCategories {
		root, err := lay.LocalCategoryRoot(category)
		if err != nil {
			continue
		}
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() || !layout.IsModelFile(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			relpath := filepath.ToSlash(rel)
			items = append(items, s.listEntry(lay, category, relpath, path, records))
			return nil
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].UsageScore != items[j].UsageScore {
			return items[i].UsageScore > items[j].UsageScore
		}
		if items[i].LastUsed != items[j].LastUsed {
			return items[i].LastUsed > items[j].LastUsed
		}
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Relpath < items[j].Relpath
	})

	cacheSize := fsutil.DirSize(lay.LocalRoot)
	return &ListResult{
		LocalBase:      lay.LocalRoot,
		NetworkBase:    lay.NetworkRoot,
		CacheSizeBytes: cacheSize,
		CacheSizeHuman: humanize.IBytes(uint64(cacheSize)),
		Items:          items,
		Settings:       settings,
	}, nil
}

// listEntry builds the listing row for one locally cached file.
func (s *Scanner) listEntry(lay *layout.Layout, category, relpath, localPath string, records map[string]domain.UsageRecord) ListEntry {
	var localSize *int64
	if size, ok := fsutil.FileSize(localPath); ok {
		localSize = &size
	}

	var networkPath string
	networkExists := false
	var networkSize *int64
	if p, err := lay.NetworkPath(category, relpath); err == nil {
		networkPath = p
		networkExists = fsutil.IsFile(p)
		if networkExists {
			if size, ok := fsutil.FileSize(p); ok {
				networkSize = &size
			}
		}
	}

	status := domain.StatusMissingNetwork
	if networkExists {
		status = domain.StatusOK
		if localSize != nil && networkSize != nil && *localSize != *networkSize {
			status = domain.StatusDifferentSize
		}
	}

	rec := records[domain.ItemRef{Category: category, Relpath: relpath}.Key()]
	return ListEntry{
		CacheItem: domain.CacheItem{
			Category:      category,
			Relpath:       relpath,
			LocalPath:     localPath,
			NetworkPath:   networkPath,
			LocalExists:   true,
			NetworkExists: networkExists,
			LocalSize:     localSize,
			NetworkSize:   networkSize,
			Status:        status,
		},
		Usage:      rec,
		UsageScore: rec.Hits(),
		LastUsed:   rec.LastUsed(),
	}
}
