// Package layout resolves the two-sided storage layout: a "local" (fast)
// root and a "network" (shared) root, each mapping model categories to
// subdirectories. All resolution enforces containment so a relpath can
// never escape its category directory.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/nolabel/model-localizer/internal/domain"
)

// Layout is an immutable snapshot of the storage layout configuration.
// It is loaded once per operation because the layout file is edited
// externally while the service runs.
type Layout struct {
	LocalRoot         string
	NetworkRoot       string
	LocalCategories   map[string]string
	NetworkCategories map[string]string
}

// Load parses the layout YAML file. The file must define "local" and
// "network" mappings, each with a base_path and one entry per category.
// Category values may be strings or lists; the first string of a list
// wins.
func Load(path string) (*Layout, error) {
	if path == "" {
		return nil, domain.ErrLayoutNotFound
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrLayoutNotFound, path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLayoutInvalid, err)
	}

	localBase, localDirs, err := parseSide(v.GetStringMap("local"), "local")
	if err != nil {
		return nil, err
	}
	networkBase, networkDirs, err := parseSide(v.GetStringMap("network"), "network")
	if err != nil {
		return nil, err
	}

	return &Layout{
		LocalRoot:         localBase,
		NetworkRoot:       networkBase,
		LocalCategories:   localDirs,
		NetworkCategories: networkDirs,
	}, nil
}

// parseSide extracts base_path and category subdirs from one layout side.
func parseSide(raw map[string]interface{}, side string) (string, map[string]string, error) {
	if len(raw) == 0 {
		return "", nil, fmt.Errorf("%w: layout must define a %q mapping", domain.ErrLayoutInvalid, side)
	}

	base := firstPath(raw["base_path"])
	if base == "" {
		return "", nil, fmt.Errorf("%w: %s.base_path must be set", domain.ErrLayoutInvalid, side)
	}

	dirs := make(map[string]string)
	for key, value := range raw {
		if key == "base_path" {
			continue
		}
		if p := firstPath(value); p != "" {
			dirs[key] = p
		}
	}
	return base, dirs, nil
}

// firstPath accepts a string or a list of strings and returns the first
// non-empty string.
func firstPath(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Categories returns the union of configured category names, sorted.
// The sort order is the scan's first-match-wins order.
func (l *Layout) Categories() []string {
	set := make(map[string]struct{}, len(l.LocalCategories)+len(l.NetworkCategories))
	for name := range l.LocalCategories {
		set[name] = struct{}{}
	}
	for name := range l.NetworkCategories {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LocalPath resolves (category, relpath) on the local side.
func (l *Layout) LocalPath(category, relpath string) (string, error) {
	subdir, ok := l.LocalCategories[category]
	if !ok {
		return "", fmt.Errorf("%w on local side: %s", domain.ErrCategoryNotMapped, category)
	}
	return Resolve(l.LocalRoot, subdir, relpath)
}

// NetworkPath resolves (category, relpath) on the network side.
func (l *Layout) NetworkPath(category, relpath string) (string, error) {
	subdir, ok := l.NetworkCategories[category]
	if !ok {
		return "", fmt.Errorf("%w on network side: %s", domain.ErrCategoryNotMapped, category)
	}
	return Resolve(l.NetworkRoot, subdir, relpath)
}

// LocalCategoryRoot returns the local directory a category maps to.
func (l *Layout) LocalCategoryRoot(category string) (string, error) {
	subdir, ok := l.LocalCategories[category]
	if !ok {
		return "", fmt.Errorf("%w on local side: %s", domain.ErrCategoryNotMapped, category)
	}
	return categoryBase(l.LocalRoot, subdir)
}

// NetworkCategoryRoot returns the network directory a category maps to.
func (l *Layout) NetworkCategoryRoot(category string) (string, error) {
	subdir, ok := l.NetworkCategories[category]
	if !ok {
		return "", fmt.Errorf("%w on network side: %s", domain.ErrCategoryNotMapped, category)
	}
	return categoryBase(l.NetworkRoot, subdir)
}

// Resolve joins base/subdir/relpath, rejecting any result that leaves
// base (for the subdir) or base/subdir (for the relpath). relpath must
// already be normalized, see NormalizeRelpath.
func Resolve(base, subdir, relpath string) (string, error) {
	full, err := categoryBase(base, subdir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(full, filepath.FromSlash(relpath))
	if !isWithin(path, full) {
		return "", fmt.Errorf("%w: %s", domain.ErrPathEscape, relpath)
	}
	return path, nil
}

// categoryBase resolves base/subdir, allowing an absolute subdir as long
// as it stays inside base.
func categoryBase(base, subdir string) (string, error) {
	full := subdir
	if !filepath.IsAbs(subdir) {
		full = filepath.Join(base, subdir)
	}
	if !isWithin(full, base) {
		return "", fmt.Errorf("%w: subdir %s", domain.ErrPathEscape, subdir)
	}
	return full, nil
}

// isWithin reports whether path is base or contained in base after
// lexical cleaning.
func isWithin(path, base string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	if absPath == absBase {
		return true
	}
	return strings.HasPrefix(absPath, absBase+string(filepath.Separator))
}
