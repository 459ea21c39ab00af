package version

import (
	"runtime"
	"runtime/debug"
)

const unknown = "unknown"

// Build variables to be set via ldflags during compilation:
// -X 'github.com/compozy/tasktree/pkg/version.Version=v1.0.0'
// -X 'github.com/compozy/tasktree/pkg/version.CommitHash=abc123'
// -X 'github.com/compozy/tasktree/pkg/version.BuildDate=2024-01-01T00:00:00Z'
var (
	Version    = unknown
	CommitHash = unknown
	BuildDate  = unknown
)

// Info returns build information in a structured format
type Info struct {
	Version    string `json:"version"     yaml:"version"`
	CommitHash string `json:"commit_hash" yaml:"commit_hash"`
	BuildDate  string `json:"build_date"  yaml:"build_date"`
	GoVersion  string `json:"go_version"  yaml:"go_version"`
}

// Get returns the build information, filling unset ldflags values from the
// module build info when available.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, setting := range bi.Settings {
		switch {
		case setting.Key == "vcs.revision" && info.CommitHash == unknown:
			info.CommitHash = setting.Value
		case setting.Key == "vcs.time" && info.BuildDate == unknown:
			info.BuildDate = setting.Value
		}
	}
	return info
}
