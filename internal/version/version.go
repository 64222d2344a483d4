// Package version holds build metadata injected with -ldflags, e.g.
//
//	-X github.com/deepsoumya617/shoply/internal/version.Version=1.4.0
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// VersionInfo is the build metadata reported by the debug endpoint.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// Info returns the build metadata.
func Info() VersionInfo {
	return VersionInfo{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
}

// String formats the version for startup logs, e.g. "1.4.0 (abc1234)".
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}
