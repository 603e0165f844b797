package shotpath

import "testing"

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "SHOT_010", "SHOT_010"},
		{"whitespace to underscore", "my shot  name", "my_shot_name"},
		{"illegal characters dropped", `sh<o>t:"v1"`, "shotv1"},
		{"control characters removed", "shot\x00\x1fname", "shotname"},
		{"underscore runs collapsed", "a___b", "a_b"},
		{"trim dots and underscores", "._shot_.", "shot"},
		{"dot component", ".", "_"},
		{"dot dot component", "..", "_"},
		{"empty", "", "_"},
		{"only illegal", `<>:"`, "_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeComponent(tt.input); got != tt.want {
				t.Errorf("SanitizeComponent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"posix path", "show/ep01/sc02", "show/ep01/sc02"},
		{"backslashes", `show\ep01\sc02`, "show/ep01/sc02"},
		{"components sanitized", "my show/sh<ot>", "my_show/shot"},
		{"empty components dropped", "show//shot/", "show/shot"},
		{"empty", "", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizePath(tt.input); got != tt.want {
				t.Errorf("SanitizePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
		format  string
		pad     int
		want    string
	}{
		{"printf format", 7, "v%03d", 3, "v007"},
		{"braced format", 7, "v{:03d}", 3, "v007"},
		{"plain braces", 7, "ver{}", 3, "ver7"},
		{"empty falls back to pad", 7, "", 3, "v007"},
		{"wider pad", 12, "", 5, "v00012"},
		{"placeholder-free returned verbatim", 7, "ver", 3, "ver"},
		{"unconvertible braces fall back", 7, "{foo}", 3, "v007"},
		{"bad verb falls back", 7, "v%s", 3, "v007"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVersion(tt.version, tt.format, tt.pad); got != tt.want {
				t.Errorf("FormatVersion(%d, %q, %d) = %q, want %q",
					tt.version, tt.format, tt.pad, got, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	result := Build(Params{
		ShotFolder:    "show/ep01/SHOT_010",
		BaseName:      "comp",
		Version:       3,
		VersionFormat: "v{:03d}",
		PNGFolder:     "png",
		Tag:           "final",
	})

	if result.VersionStr != "v003" {
		t.Errorf("VersionStr = %q, want v003", result.VersionStr)
	}
	if result.FileName != "comp_v003_final" {
		t.Errorf("FileName = %q, want comp_v003_final", result.FileName)
	}
	if result.StandardPath != "show/ep01/SHOT_010/v003/comp_v003_final" {
		t.Errorf("StandardPath = %q", result.StandardPath)
	}
	if result.PNGPath != "show/ep01/SHOT_010/v003/png/comp_v003_final" {
		t.Errorf("PNGPath = %q", result.PNGPath)
	}
	if result.FolderStandard != "show/ep01/SHOT_010/v003/" {
		t.Errorf("FolderStandard = %q, want trailing slash", result.FolderStandard)
	}
	if result.FolderPNG != "show/ep01/SHOT_010/v003/png/" {
		t.Errorf("FolderPNG = %q, want trailing slash", result.FolderPNG)
	}
}

func TestBuild_BaseNameFromShotFolder(t *testing.T) {
	tests := []struct {
		name       string
		shotFolder string
		want       string
	}{
		{"last component", "show/ep01/SHOT_010", "SHOT_010"},
		{"windows separators", `show\ep01\SHOT_020`, "SHOT_020"},
		{"empty folder", "", "SHOT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Build(Params{ShotFolder: tt.shotFolder, Version: 1})
			if want := tt.want + "_v001"; result.FileName != want {
				t.Errorf("FileName = %q, want %q", result.FileName, want)
			}
		})
	}
}

func TestBuild_Sanitize(t *testing.T) {
	result := Build(Params{
		ShotFolder: "my show/sh<ot>",
		BaseName:   "com p",
		Version:    1,
		PNGFolder:  "png?",
		Tag:        "fin al",
		Sanitize:   true,
	})

	if result.FileName != "com_p_v001_fin_al" {
		t.Errorf("FileName = %q, want com_p_v001_fin_al", result.FileName)
	}
	if result.StandardPath != "my_show/shot/v001/com_p_v001_fin_al" {
		t.Errorf("StandardPath = %q", result.StandardPath)
	}
}
