package core

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version is the module version for tagged builds, "devel-<sha>" for local
// VCS builds and "devel" otherwise.
var Version string

// BuildInfo carries the details shown by the version command.
type BuildInfo struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Time      string `json:"time,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var buildInfo BuildInfo

func init() {
	buildInfo = readBuildInfo(debug.ReadBuildInfo())
	Version = buildInfo.Version
}

func readBuildInfo(info *debug.BuildInfo, ok bool) BuildInfo {
	bi := BuildInfo{
		Version:   "devel",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if !ok || info == nil {
		return bi
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			bi.Revision = s.Value
		case "vcs.time":
			bi.Time = s.Value
		case "vcs.modified":
			bi.Modified = s.Value == "true"
		}
	}

	// Skip pseudo-versions (local builds in Go 1.24+), VCS info is more useful
	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		bi.Version = v
		return bi
	}
	if bi.Revision == "" {
		return bi
	}

	short := bi.Revision
	if len(short) > 7 {
		short = short[:7]
	}
	bi.Version = "devel-" + short
	if bi.Modified {
		bi.Version += "-dirty"
	}
	return bi
}

// GetBuildInfo returns the build details of the running binary.
func GetBuildInfo() BuildInfo {
	return buildInfo
}

// FormatVersion strips the "v" prefix of tagged releases; devel versions
// pass through as-is.
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// String renders the build info on one line.
func (b BuildInfo) String() string {
	s := fmt.Sprintf("%s (%s, %s)", FormatVersion(b.Version), b.GoVersion, b.Platform)
	if b.Time != "" {
		s += " built " + b.Time
	}
	return s
}

// isPseudoVersion reports whether v looks like a Go module pseudo-version,
// e.g. v0.0.0-20260217105831-82903d1d8810.
func isPseudoVersion(v string) bool {
	if i := strings.Index(v, "+"); i >= 0 {
		v = v[:i]
	}
	i := strings.LastIndex(v, "-")
	if i < 0 {
		return false
	}
	hash := v[i+1:]
	if len(hash) != 12 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
