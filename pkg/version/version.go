// Package version reports how the shelf binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name identifies the program to MCP clients.
const Name = "shelf"

// Set with -ldflags "-X github.com/Aman-CERP/shelf/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GoVersion is the toolchain that built the binary.
var GoVersion = runtime.Version()

// BuildInfo is the JSON form of 'shelf version --json'.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns build details, filling commit and date from the module's
// VCS stamp when ldflags did not set them.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "unknown":
				info.Commit = shortCommit(s.Value)
			case s.Key == "vcs.time" && info.Date == "unknown":
				info.Date = s.Value
			}
		}
	}
	return info
}

func shortCommit(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String is the one-line form of 'shelf version'.
func String() string {
	i := GetInfo()
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s/%s)", Name, i.Version, i.Commit, i.Date, i.GoVersion, i.OS, i.Arch)
}

// Short returns the bare version.
func Short() string {
	return Version
}
