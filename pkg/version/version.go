// Package version provides build and version information for the engine.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	-X github.com/laserpointlabs/ODRAS-sub000/pkg/version.Version=...
//	-X github.com/laserpointlabs/ODRAS-sub000/pkg/version.Commit=...
//	-X github.com/laserpointlabs/ODRAS-sub000/pkg/version.Date=...
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"

	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns a formatted version string with build info.
func String() string {
	return fmt.Sprintf("odras %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
