// Package version reports the docindex build.
package version

import (
	"fmt"
	"runtime"
)

// Version is set with -ldflags "-X github.com/Aman-CERP/docindex/pkg/version.Version=...".
var Version = "dev"

// Set via ldflags alongside Version.
var (
	Commit = "unknown"
	Date   = "unknown"
)

// BuildInfo is the JSON form of the build.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information.
func Get() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String is the one-line form printed by docindex version.
func String() string {
	b := Get()
	return fmt.Sprintf("docindex %s (commit %s, built %s, %s, %s)",
		b.Version, b.Commit, b.Date, b.GoVersion, b.Platform)
}
