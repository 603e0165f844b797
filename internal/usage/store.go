// Package usage persists per-item reference counters and the process-wide
// cache settings in a single JSON document. All mutations serialize
// through one lock around read-modify-write; write frequency is one
// record per scanned or copied file, so throughput is not a concern.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nolabel/model-localizer/internal/domain"
)

// document is the on-disk shape of the usage store.
type document struct {
	Items    map[string]domain.UsageRecord `json:"items"`
	Settings domain.Settings               `json:"settings"`
}

// Store is a file-backed usage tracker.
type Store struct {
	path string

	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a usage store persisting to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// read loads the document, falling back to an empty document with
// default settings when the file is missing or unreadable.
func (s *Store) read() *document {
	doc := &document{
		Items:    make(map[string]domain.UsageRecord),
		Settings: domain.DefaultSettings(),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return doc
	}

	var raw struct {
		Items    map[string]domain.UsageRecord `json:"items"`
		Settings *domain.Settings              `json:"settings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return doc
	}
	if raw.Items != nil {
		doc.Items = raw.Items
	}
	if raw.Settings != nil {
		doc.Settings = *raw.Settings
	}
	return doc
}

// write persists the document atomically via a temp-file rename.
func (s *Store) write(doc *document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode usage store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write usage store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace usage store: %w", err)
	}
	return nil
}

// Record increments the counters matching kind and touches the item's
// timestamps. Items lacking a category or relpath are skipped.
func (s *Store) Record(items []domain.ItemRef, kind domain.UsageKind) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	now := s.now().Unix()
	for _, item := range items {
		if item.Category == "" || item.Relpath == "" {
			continue
		}
		rec := doc.Items[item.Key()]
		switch kind {
		case domain.UsageWorkflow:
			rec.WorkflowHits++
			rec.LastSeen = now
		case domain.UsageLocalize, domain.UsageUpload:
			rec.LocalizeHits++
			rec.LastLocalize = now
			rec.LastSeen = now
		default:
			continue
		}
		doc.Items[item.Key()] = rec
	}
	return s.write(doc)
}

// Snapshot returns a consistent copy of all records and settings.
func (s *Store) Snapshot() (map[string]domain.UsageRecord, domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	items := make(map[string]domain.UsageRecord, len(doc.Items))
	for key, rec := range doc.Items {
		items[key] = rec
	}
	return items, doc.Settings
}

// Settings returns the persisted settings.
func (s *Store) Settings() domain.Settings {
	_, settings := s.Snapshot()
	return settings
}

// Remove deletes the record for (category, relpath). Used when the
// underlying local file is deleted or pruned.
func (s *Store) Remove(category, relpath string) error {
	key := domain.ItemRef{Category: category, Relpath: relpath}.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	if _, ok := doc.Items[key]; !ok {
		return nil
	}
	delete(doc.Items, key)
	return s.write(doc)
}

// UpdateSettings applies the non-nil fields and returns the resulting
// settings. A negative cache budget is clamped to zero.
func (s *Store) UpdateSettings(autoDelete *bool, maxCacheBytes *int64) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	if autoDelete != nil {
		doc.Settings.AutoDeleteEnabled = *autoDelete
	}
	if maxCacheBytes != nil {
		doc.Settings.MaxCacheBytes = max(0, *maxCacheBytes)
	}
	if err := s.write(doc); err != nil {
		return doc.Settings, err
	}
	return doc.Settings, nil
}
