// Package version provides build and version information for chatindex.
package version

import (
	"fmt"
	"runtime"
)

// Version is the release version, set via ldflags:
// -X github.com/Aman-CERP/chatindex/pkg/version.Version=$(VERSION)
var Version = "dev"

// Build information set via ldflags at build time.
var (
	// Commit is the short git commit hash.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

// IndexFormat is the on-disk index layout version. Archives and folder
// names carry it so a newer binary never opens an incompatible index.
const IndexFormat = "v1"

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"go_version"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	IndexFormat string `json:"index_format"`
}

// String returns a formatted version string with all build info.
func String() string {
	return fmt.Sprintf("chatindex %s (commit: %s, built: %s, go: %s, index: %s)",
		Version, Commit, Date, GoVersion, IndexFormat)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:     Version,
		Commit:      Commit,
		Date:        Date,
		GoVersion:   GoVersion,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		IndexFormat: IndexFormat,
	}
}
