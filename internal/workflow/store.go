// Package workflow holds the shared render context passed between graph
// executions (resolution, fps, project path), plus persisted defaults
// and a short history of committed contexts.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nolabel/model-localizer/internal/shotpath"
)

const historyLimit = 12

// Context is one render context, built from user input plus environment
// fallbacks.
type Context struct {
	WorkflowID       string   `json:"workflow_id"`
	GeneratedAt      string   `json:"generated_at"`
	GeneratedAtEpoch int64    `json:"generated_at_epoch"`
	Project          string   `json:"project,omitempty"`
	Episode          string   `json:"episode,omitempty"`
	Scene            string   `json:"scene,omitempty"`
	Shot             string   `json:"shot,omitempty"`
	Resolution       [2]int   `json:"resolution"`
	FPS              float64  `json:"fps"`
	ProjectPath      string   `json:"project_path,omitempty"`
	Note             string   `json:"note,omitempty"`
	Warnings         []string `json:"warnings"`
}

// Input is the raw payload a context is built from.
type Input struct {
	Project     string  `json:"project"`
	Episode     string  `json:"episode"`
	Scene       string  `json:"scene"`
	Shot        string  `json:"shot"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	ProjectPath string  `json:"project_path"`
	Note        string  `json:"note"`
}

// HistoryEntry is one committed context in the persisted history.
type HistoryEntry struct {
	ID          string  `json:"id"`
	SavedAt     string  `json:"saved_at"`
	Project     string  `json:"project,omitempty"`
	Episode     string  `json:"episode,omitempty"`
	Scene       string  `json:"scene,omitempty"`
	Shot        string  `json:"shot,omitempty"`
	Resolution  [2]int  `json:"resolution"`
	FPS         float64 `json:"fps"`
	ProjectPath string  `json:"project_path,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// signature is the dedupe key for history entries.
func (e HistoryEntry) signature() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%dx%d|%g",
		e.Project, e.Episode, e.Scene, e.Shot, e.ProjectPath,
		e.Resolution[0], e.Resolution[1], e.FPS)
}

// Store keeps the in-memory context cache and the persisted defaults and
// history files under the state directory.
type Store struct {
	defaultsPath string
	historyPath  string

	mu     sync.Mutex
	cache  map[string]Context
	lastID string
	now    func() time.Time
}

// NewStore creates a workflow store rooted at the state directory.
func NewStore(stateDir string) *Store {
	return &Store{
		defaultsPath: filepath.Join(stateDir, "defaults", "workflow_defaults.json"),
		historyPath:  filepath.Join(stateDir, "workflow_history.json"),
		cache:        make(map[string]Context),
		now:          time.Now,
	}
}

// BuildContext assembles a context from the input, falling back to
// environment defaults (SHOW/PROJECT, EPISODE/EP, SCENE/SEQ, SHOT) for
// empty identity fields and collecting validation warnings.
func (s *Store) BuildContext(in Input) Context {
	var warnings []string

	project := coalesce(in.Project, os.Getenv("SHOW"), os.Getenv("PROJECT"))
	episode := coalesce(in.Episode, os.Getenv("EPISODE"), os.Getenv("EP"))
	scene := coalesce(in.Scene, os.Getenv("SCENE"), os.Getenv("SEQ"))
	shot := coalesce(in.Shot, os.Getenv("SHOT"))

	if project == "" {
		warnings = append(warnings, "Project is empty.")
	}
	if scene == "" {
		warnings = append(warnings, "Scene is empty.")
	}
	if shot == "" {
		warnings = append(warnings, "Shot is empty.")
	}
	if in.ProjectPath == "" {
		warnings = append(warnings, "Project path is empty.")
	}

	if sanitized := sanitizeIdentifier(shot); shot != "" && sanitized != shot {
		warnings = append(warnings, "Shot contained illegal characters and was sanitized.")
		shot = sanitized
	}

	projectPath := in.ProjectPath
	if projectPath != "" {
		if sanitized := shotpath.SanitizePath(projectPath); sanitized != projectPath {
			warnings = append(warnings, "Project path contained illegal characters and was sanitized.")
			projectPath = sanitized
		}
	}

	if in.Width <= 0 || in.Height <= 0 {
		warnings = append(warnings, "Resolution must be positive.")
	}
	if in.FPS <= 0 {
		warnings = append(warnings, "FPS should be positive.")
	}

	now := s.now().UTC()
	ctx := Context{
		WorkflowID:       uuid.NewString(),
		GeneratedAt:      now.Format(time.RFC3339),
		GeneratedAtEpoch: now.Unix(),
		Project:          project,
		Episode:          episode,
		Scene:            scene,
		Shot:             shot,
		Resolution:       [2]int{in.Width, in.Height},
		FPS:              in.FPS,
		ProjectPath:      projectPath,
		Note:             in.Note,
		Warnings:         warnings,
	}
	if ctx.Warnings == nil {
		ctx.Warnings = []string{}
	}

	s.Put(ctx)
	return ctx
}

// Put caches a context and marks it as the most recent one.
func (s *Store) Put(ctx Context) {
	if ctx.WorkflowID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[ctx.WorkflowID] = ctx
	s.lastID = ctx.WorkflowID
}

// Get returns a cached context by id; an empty id means the most recent.
func (s *Store) Get(workflowID string) (Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workflowID == "" {
		workflowID = s.lastID
	}
	ctx, ok := s.cache[workflowID]
	return ctx, ok
}

// ClearCache drops all cached contexts.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]Context)
	s.lastID = ""
}

// Defaults returns the persisted defaults document, an empty object when
// none exists.
func (s *Store) Defaults() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.defaultsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("failed to read workflow defaults: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode workflow defaults: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return doc, nil
}

// SetDefaults replaces the persisted defaults document.
func (s *Store) SetDefaults(doc map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.defaultsPath, doc)
}

// ResetDefaults removes the persisted defaults document.
func (s *Store) ResetDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.defaultsPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset workflow defaults: %w", err)
	}
	return nil
}

// History returns the persisted history, newest first.
func (s *Store) History() ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readHistory()
}

// Commit appends a context to the history, dropping prior entries with
// the same field signature and trimming to the history limit.
func (s *Store) Commit(ctx Context) (HistoryEntry, error) {
	entry := HistoryEntry{
		ID:          uuid.NewString(),
		SavedAt:     s.now().UTC().Format(time.RFC3339),
		Project:     ctx.Project,
		Episode:     ctx.Episode,
		Scene:       ctx.Scene,
		Shot:        ctx.Shot,
		Resolution:  ctx.Resolution,
		FPS:         ctx.FPS,
		ProjectPath: ctx.ProjectPath,
		Note:        ctx.Note,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readHistory()
	if err != nil {
		return entry, err
	}

	deduped := make([]HistoryEntry, 0, len(items)+1)
	deduped = append(deduped, entry)
	for _, item := range items {
		if item.signature() == entry.signature() {
			continue
		}
		deduped = append(deduped, item)
	}
	if len(deduped) > historyLimit {
		deduped = deduped[:historyLimit]
	}
	return entry, writeJSONFile(s.historyPath, deduped)
}

// DeleteHistory removes one history entry by id.
func (s *Store) DeleteHistory(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readHistory()
	if err != nil {
		return err
	}
	filtered := items[:0]
	for _, item := range items {
		if item.ID != entryID {
			filtered = append(filtered, item)
		}
	}
	return writeJSONFile(s.historyPath, filtered)
}

// ClearHistory empties the persisted history.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.historyPath, []HistoryEntry{})
}

// readHistory loads the history file; call with the lock held.
func (s *Store) readHistory() ([]HistoryEntry, error) {
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read workflow history: %w", err)
	}
	var items []HistoryEntry
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode workflow history: %w", err)
	}
	if items == nil {
		items = []HistoryEntry{}
	}
	return items, nil
}

// writeJSONFile persists a JSON document, creating parent directories.
func writeJSONFile(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// coalesce returns the first non-blank value, trimmed.
func coalesce(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// sanitizeIdentifier keeps alphanumerics plus "_-.", replacing anything
// else with an underscore.
func sanitizeIdentifier(value string) string {
	if value == "" {
		return value
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
