// Package audit keeps an append-only action log: one JSON record per
// line, rendered to human-readable text on demand. Rendering is capped
// to the most recent records; malformed lines are passed through raw so
// the log is never silently lossy.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nolabel/model-localizer/internal/domain"
)

const (
	// ActionLocalize records a network->local copy of one file.
	ActionLocalize = "localize"
	// ActionUpload records a local->network copy of one file.
	ActionUpload = "upload"
	// ActionDeleteLocal records a manual local file deletion.
	ActionDeleteLocal = "delete_local"
	// ActionPrune summarizes one eviction run.
	ActionPrune = "prune"
)

// renderMaxLines bounds the rendered log to the newest records.
const renderMaxLines = 200

// Log is a file-backed append-only action log.
type Log struct {
	path string

	mu  sync.Mutex
	now func() time.Time
}

// New creates an action log persisting to the given file path.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// append writes one record as a JSON line.
func (l *Log) append(action string, fields map[string]interface{}) error {
	entry := map[string]interface{}{
		"timestamp": l.now().Unix(),
		"action":    action,
	}
	for key, value := range fields {
		entry[key] = value
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Copy records one completed file copy.
func (l *Log) Copy(action, source string, item domain.ItemRef, bytes int64, overwrite bool) error {
	return l.append(action, map[string]interface{}{
		"source":    source,
		"category":  item.Category,
		"relpath":   item.Relpath,
		"bytes":     bytes,
		"overwrite": overwrite,
	})
}

// DeleteLocal records a manual deletion of a local file.
func (l *Log) DeleteLocal(source string, item domain.ItemRef) error {
	return l.append(ActionDeleteLocal, map[string]interface{}{
		"source":   source,
		"category": item.Category,
		"relpath":  item.Relpath,
	})
}

// Prune records one eviction run as a single entry.
func (l *Log) Prune(source string, maxCacheBytes int64, result *domain.PruneResult) error {
	removed := make([]map[string]interface{}, 0, len(result.Removed))
	for _, item := range result.Removed {
		removed = append(removed, map[string]interface{}{
			"category": item.Category,
			"relpath":  item.Relpath,
			"bytes":    item.Bytes,
		})
	}
	return l.append(ActionPrune, map[string]interface{}{
		"source":          source,
		"max_cache_bytes": maxCacheBytes,
		"bytes_before":    result.BytesBefore,
		"bytes_after":     result.BytesAfter,
		"bytes_freed":     result.BytesFreed,
		"removed":         removed,
	})
}

// RenderText renders the newest records as human-readable text.
func (l *Log) RenderText() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(lines) > renderMaxLines {
		lines = lines[len(lines)-renderMaxLines:]
	}

	var out []string
	for _, line := range lines {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			out = append(out, line)
			continue
		}
		out = append(out, formatEntry(entry)...)
	}
	return strings.Join(out, "\n"), nil
}

// formatEntry renders one decoded record; unknown actions fall back to
// the raw JSON.
func formatEntry(entry map[string]interface{}) []string {
	timestamp := formatTimestamp(entry["timestamp"])
	action := stringField(entry, "action", "action")
	sourceText := ""
	if source := stringField(entry, "source", ""); source != "" {
		sourceText = " (" + source + ")"
	}

	switch action {
	case ActionLocalize, ActionUpload:
		verb := "Localize"
		if action == ActionUpload {
			verb = "Upload"
		}
		overwrite := "no"
		if b, ok := entry["overwrite"].(bool); ok && b {
			overwrite = "yes"
		}
		return []string{fmt.Sprintf("[%s] %s%s: %s/%s (%s, overwrite: %s)",
			timestamp, verb, sourceText,
			stringField(entry, "category", "unknown"),
			stringField(entry, "relpath", "unknown"),
			humanBytes(entry["bytes"]), overwrite)}

	case ActionDeleteLocal:
		return []string{fmt.Sprintf("[%s] Delete local%s: %s/%s",
			timestamp, sourceText,
			stringField(entry, "category", "unknown"),
			stringField(entry, "relpath", "unknown"))}

	case ActionPrune:
		removed, _ := entry["removed"].([]interface{})
		lines := []string{
			fmt.Sprintf("[%s] Prune%s: freed %s (before %s, after %s)",
				timestamp, sourceText,
				humanBytes(entry["bytes_freed"]),
				humanBytes(entry["bytes_before"]),
				humanBytes(entry["bytes_after"])),
			fmt.Sprintf("Removed items: %d", len(removed)),
		}
		for _, raw := range removed {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("  - %s/%s (%s)",
				stringField(item, "category", "unknown"),
				stringField(item, "relpath", "unknown"),
				humanBytes(item["bytes"])))
		}
		return lines
	}

	raw, _ := json.Marshal(entry)
	return []string{fmt.Sprintf("[%s] %s%s: %s", timestamp, action, sourceText, raw)}
}

func formatTimestamp(value interface{}) string {
	num, ok := value.(float64)
	if !ok {
		return "unknown time"
	}
	return time.Unix(int64(num), 0).Format("2006-01-02 15:04:05")
}

func stringField(entry map[string]interface{}, key, fallback string) string {
	if s, ok := entry[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// humanBytes renders a JSON-decoded byte count, "-" when absent.
func humanBytes(value interface{}) string {
	num, ok := value.(float64)
	if !ok {
		return "-"
	}
	return humanize.IBytes(uint64(num))
}
