package layout

import (
	"path"
	"strings"

	"github.com/nolabel/model-localizer/internal/domain"
)

// modelExtensions is the set of file extensions treated as model files.
var modelExtensions = map[string]struct{}{
	".safetensors": {},
	".ckpt":        {},
	".pt":          {},
	".pth":         {},
	".bin":         {},
	".gguf":        {},
}

// IsModelFile reports whether the path has a recognized model extension.
func IsModelFile(name string) bool {
	if name == "" {
		return false
	}
	_, ok := modelExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// NormalizeRelpath validates and normalizes a relative path: trimmed,
// forward slashes, no absolute prefix, no ".." segments. Empty and "."
// segments are collapsed.
func NormalizeRelpath(raw string) (string, error) {
	rel := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if rel == "" {
		return "", domain.ErrInvalidRelpath
	}
	if strings.HasPrefix(rel, "/") {
		return "", domain.ErrInvalidRelpath
	}
	var parts []string
	for _, part := range strings.Split(rel, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", domain.ErrInvalidRelpath
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", domain.ErrInvalidRelpath
	}
	return path.Join(parts...), nil
}

// StripBracketSuffix removes a host-added display suffix such as
// " [checkpoint]" from the end of a candidate string.
func StripBracketSuffix(value string) string {
	if value == "" || !strings.HasSuffix(value, "]") {
		return value
	}
	if idx := strings.Index(value, " ["); idx >= 0 {
		return value[:idx]
	}
	return value
}

// CandidateRelpaths derives the relpath variants to try for a raw
// candidate string within a category: the normalized relative path with
// any "{category}/" prefix trimmed, then the bare filename. Returns nil
// when the candidate cannot be normalized.
func CandidateRelpaths(raw, category string) []string {
	rel, err := NormalizeRelpath(StripBracketSuffix(raw))
	if err != nil {
		return nil
	}
	exact := rel
	if trimmed := strings.TrimPrefix(rel, category+"/"); trimmed != rel && trimmed != "" {
		exact = trimmed
	}
	variants := []string{exact}
	if name := path.Base(exact); name != "" && name != exact {
		variants = append(variants, name)
	}
	return variants
}
