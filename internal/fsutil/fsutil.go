// Package fsutil provides small filesystem helpers shared by the cache
// services.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
)

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FileSize returns the size of a regular file, or (0, false) when the
// file does not exist or cannot be stat'ed.
func FileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

// DirSize returns the total size of all regular files under root.
// Unreadable entries are skipped.
func DirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
