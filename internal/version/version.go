// Package version provides build information for kiorg binaries.
// Values are injected with -ldflags "-X github.com/kiorg/kiorg/internal/version.Version=x.y.z"
// and fall back to the module build info.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/kiorg/kiorg/pkg/plugin"
)

var (
	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the VCS revision of the build.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes a build.
type Info struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	Date            string `json:"date"`
	GoVersion       string `json:"go_version"`
	Platform        string `json:"platform"`
	ProtocolVersion string `json:"protocol_version"`
}

// GetInfo returns the build information, filling unset values from the
// embedded module build info where it has them.
func GetInfo() Info {
	info := Info{
		Version:         Version,
		Commit:          Commit,
		Date:            Date,
		GoVersion:       runtime.Version(),
		Platform:        fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		ProtocolVersion: plugin.ProtocolVersion,
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == "unknown":
			info.Commit = s.Value
		case s.Key == "vcs.time" && info.Date == "unknown":
			info.Date = s.Value
		}
	}
	return info
}

// String returns a human-readable version line.
func String() string {
	info := GetInfo()
	if info.Commit != "unknown" && info.Date != "unknown" {
		return fmt.Sprintf("kiorg version %s (commit: %s, built: %s, protocol %s, %s, %s)",
			info.Version, shortCommit(info.Commit), info.Date, info.ProtocolVersion, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("kiorg version %s (protocol %s, %s, %s)",
		info.Version, info.ProtocolVersion, info.GoVersion, info.Platform)
}

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}
