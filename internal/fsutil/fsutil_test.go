package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "model.safetensors")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if !IsFile(file) {
		t.Error("IsFile() = false for a regular file")
	}
	if IsFile(dir) {
		t.Error("IsFile() = true for a directory")
	}
	if IsFile(filepath.Join(dir, "missing")) {
		t.Error("IsFile() = true for a missing path")
	}
	if IsFile("") {
		t.Error("IsFile(\"\") = true")
	}
}

func TestFileSize(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "model.safetensors")
	if err := os.WriteFile(file, make([]byte, 1234), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	size, ok := FileSize(file)
	if !ok || size != 1234 {
		t.Errorf("FileSize() = (%d, %v), want (1234, true)", size, ok)
	}
	if _, ok := FileSize(filepath.Join(dir, "missing")); ok {
		t.Error("FileSize() ok = true for a missing path")
	}
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if got := DirSize(dir); got != 150 {
		t.Errorf("DirSize() = %d, want 150", got)
	}
	if got := DirSize(filepath.Join(dir, "missing")); got != 0 {
		t.Errorf("DirSize() of missing dir = %d, want 0", got)
	}
}
