// Package shotpath builds project-relative output paths for shot-based
// media I/O:
//
//	standard_path = {shot}/{version_str}/{file_name}
//	png_path      = {shot}/{version_str}/{png_folder}/{file_name}
//	file_name     = {base}{delim}{version_str}[{delim}{tag}]
//
// All functions are pure; sanitization is optional and never produces an
// empty component.
package shotpath

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	illegalChars = `<>:"|?*`
	controlRE    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	whitespaceRE = regexp.MustCompile(`\s+`)
	underscoreRE = regexp.MustCompile(`_+`)
	pyFormatRE   = regexp.MustCompile(`\{:([^}]*)\}`)
)

// SanitizeComponent normalizes one path component: unicode NFKC,
// control characters removed, whitespace collapsed to underscores,
// illegal filename characters dropped, runs of underscores collapsed,
// leading/trailing "._ " trimmed. Returns "_" rather than an empty
// string.
func SanitizeComponent(s string) string {
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(controlRE.ReplaceAllString(s, ""))

	if s == "." || s == ".." {
		return "_"
	}

	s = whitespaceRE.ReplaceAllString(s, "_")
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalChars, r) {
			return -1
		}
		return r
	}, s)
	s = underscoreRE.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._ ")

	if s == "" {
		return "_"
	}
	return s
}

// SanitizePath sanitizes each slash-separated component of a path.
func SanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	var clean []string
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		clean = append(clean, SanitizeComponent(part))
	}
	if len(clean) == 0 {
		return "_"
	}
	return path.Join(clean...)
}

// FormatVersion renders a version number using a printf-style format
// ("v%03d"), a braced format ("v{:03d}"), or zero-padding to pad digits
// when the format is empty or unusable. A format with no placeholder at
// all is returned verbatim.
func FormatVersion(version int, format string, pad int) string {
	vf := strings.TrimSpace(format)
	if vf != "" {
		if !strings.Contains(vf, "{") && !strings.Contains(vf, "%") {
			return vf
		}
		if strings.Contains(vf, "{") {
			vf = pyFormatRE.ReplaceAllString(vf, "%$1")
			vf = strings.ReplaceAll(vf, "{}", "%d")
		}
		if strings.Contains(vf, "%") {
			if out := fmt.Sprintf(vf, version); !strings.Contains(out, "%!") {
				return out
			}
		}
	}
	return fmt.Sprintf("v%0*d", pad, version)
}

// Params are the inputs to Build.
type Params struct {
	ShotFolder    string `json:"shot_folder"`
	BaseName      string `json:"base_name"`
	Version       int    `json:"version_int"`
	VersionFormat string `json:"version_format"`
	NameDelim     string `json:"name_delim"`
	PNGFolder     string `json:"png_folder"`
	Tag           string `json:"tag"`
	Sanitize      bool   `json:"sanitize"`
}

// Result holds the built paths.
type Result struct {
	StandardPath   string `json:"standard_path"`
	PNGPath        string `json:"png_path"`
	FileName       string `json:"file_name"`
	VersionStr     string `json:"version_str"`
	FolderStandard string `json:"folder_standard"`
	FolderPNG      string `json:"folder_png"`
}

// Build assembles the output paths. When BaseName is empty, the last
// component of ShotFolder is used ("SHOT" as a last resort). Folder
// outputs carry a trailing slash.
func Build(p Params) Result {
	shot := p.ShotFolder
	base := strings.TrimSpace(p.BaseName)
	if base == "" {
		shotNorm := strings.ReplaceAll(shot, "\\", "/")
		parts := strings.Split(shotNorm, "/")
		base = strings.TrimSpace(parts[len(parts)-1])
		if base == "" {
			base = "SHOT"
		}
	}

	delim := strings.TrimSpace(p.NameDelim)
	if delim == "" {
		delim = "_"
	}
	tag := strings.TrimSpace(p.Tag)

	versionStr := FormatVersion(p.Version, p.VersionFormat, 3)
	pngFolder := p.PNGFolder

	if p.Sanitize {
		shot = SanitizePath(shot)
		base = SanitizeComponent(base)
		versionStr = SanitizeComponent(versionStr)
		pngFolder = SanitizeComponent(pngFolder)
		if tag != "" {
			tag = SanitizeComponent(tag)
		}
	}

	fileName := base + delim + versionStr
	if tag != "" {
		fileName += delim + tag
	}

	folderStandard := posixJoin(shot, versionStr)
	folderPNG := posixJoin(shot, versionStr, pngFolder)

	return Result{
		StandardPath:   posixJoin(folderStandard, fileName),
		PNGPath:        posixJoin(folderPNG, fileName),
		FileName:       fileName,
		VersionStr:     versionStr,
		FolderStandard: folderStandard + "/",
		FolderPNG:      folderPNG + "/",
	}
}

// posixJoin joins non-empty parts with forward slashes.
func posixJoin(parts ...string) string {
	var clean []string
	for _, p := range parts {
		if p != "" {
			clean = append(clean, p)
		}
	}
	return path.Join(clean...)
}
