package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nolabel/model-localizer/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "usage.json"))
}

func TestStore_RecordWorkflow(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Unix(1000, 0) }

	ref := domain.ItemRef{Category: "checkpoints", Relpath: "model.safetensors"}
	if err := s.Record([]domain.ItemRef{ref, ref}, domain.UsageWorkflow); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	items, _ := s.Snapshot()
	rec := items[ref.Key()]
	if rec.WorkflowHits != 2 {
		t.Errorf("WorkflowHits = %d, want 2", rec.WorkflowHits)
	}
	if rec.LocalizeHits != 0 {
		t.Errorf("LocalizeHits = %d, want 0", rec.LocalizeHits)
	}
	if rec.LastSeen != 1000 {
		t.Errorf("LastSeen = %d, want 1000", rec.LastSeen)
	}
	if rec.LastLocalize != 0 {
		t.Errorf("LastLocalize = %d, want 0", rec.LastLocalize)
	}
}

func TestStore_RecordLocalize(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Unix(2000, 0) }

	ref := domain.ItemRef{Category: "loras", Relpath: "style.safetensors"}
	if err := s.Record([]domain.ItemRef{ref}, domain.UsageLocalize); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	items, _ := s.Snapshot()
	rec := items[ref.Key()]
	if rec.LocalizeHits != 1 {
		t.Errorf("LocalizeHits = %d, want 1", rec.LocalizeHits)
	}
	if rec.LastLocalize != 2000 || rec.LastSeen != 2000 {
		t.Errorf("timestamps = (%d, %d), want (2000, 2000)", rec.LastLocalize, rec.LastSeen)
	}
}

func TestStore_RecordSkipsIncompleteItems(t *testing.T) {
	s := newTestStore(t)

	err := s.Record([]domain.ItemRef{
		{Category: "", Relpath: "model.safetensors"},
		{Category: "checkpoints", Relpath: ""},
	}, domain.UsageWorkflow)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	items, _ := s.Snapshot()
	if len(items) != 0 {
		t.Errorf("Snapshot() items = %d, want 0", len(items))
	}
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)

	ref := domain.ItemRef{Category: "checkpoints", Relpath: "model.safetensors"}
	if err := s.Record([]domain.ItemRef{ref}, domain.UsageWorkflow); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Remove(ref.Category, ref.Relpath); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	items, _ := s.Snapshot()
	if _, ok := items[ref.Key()]; ok {
		t.Error("record still present after Remove()")
	}

	// Removing a missing record is a no-op.
	if err := s.Remove("checkpoints", "never-existed.safetensors"); err != nil {
		t.Errorf("Remove() of absent record error: %v", err)
	}
}

func TestStore_DefaultSettings(t *testing.T) {
	s := newTestStore(t)

	settings := s.Settings()
	if settings.AutoDeleteEnabled {
		t.Error("AutoDeleteEnabled default = true, want false")
	}
	if want := int64(200 * 1024 * 1024 * 1024); settings.MaxCacheBytes != want {
		t.Errorf("MaxCacheBytes default = %d, want %d", settings.MaxCacheBytes, want)
	}
}

func TestStore_UpdateSettings(t *testing.T) {
	s := newTestStore(t)

	enabled := true
	budget := int64(1024)
	settings, err := s.UpdateSettings(&enabled, &budget)
	if err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	if !settings.AutoDeleteEnabled || settings.MaxCacheBytes != 1024 {
		t.Errorf("settings = %+v, want auto_delete on with 1024 budget", settings)
	}

	// nil fields leave values unchanged
	settings, err = s.UpdateSettings(nil, nil)
	if err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	if !settings.AutoDeleteEnabled || settings.MaxCacheBytes != 1024 {
		t.Errorf("settings changed by nil update: %+v", settings)
	}

	// negative budget clamps to zero
	negative := int64(-5)
	settings, err = s.UpdateSettings(nil, &negative)
	if err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	if settings.MaxCacheBytes != 0 {
		t.Errorf("MaxCacheBytes = %d, want 0 after negative update", settings.MaxCacheBytes)
	}
}

func TestStore_CorruptFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}
	s := NewStore(path)

	items, settings := s.Snapshot()
	if len(items) != 0 {
		t.Errorf("Snapshot() items = %d, want 0", len(items))
	}
	if settings != domain.DefaultSettings() {
		t.Errorf("settings = %+v, want defaults", settings)
	}

	// The store stays writable after a corrupt read.
	ref := domain.ItemRef{Category: "checkpoints", Relpath: "model.safetensors"}
	if err := s.Record([]domain.ItemRef{ref}, domain.UsageWorkflow); err != nil {
		t.Fatalf("Record() after corrupt read error: %v", err)
	}
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	first := NewStore(path)
	ref := domain.ItemRef{Category: "checkpoints", Relpath: "model.safetensors"}
	if err := first.Record([]domain.ItemRef{ref}, domain.UsageWorkflow); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	second := NewStore(path)
	items, _ := second.Snapshot()
	if items[ref.Key()].WorkflowHits != 1 {
		t.Errorf("WorkflowHits = %d after reopen, want 1", items[ref.Key()].WorkflowHits)
	}
}
