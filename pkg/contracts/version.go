package contracts

import (
	"fmt"
	"runtime"
)

const (
	Version = "1.0.0"

	// CacheFormatVersion is stored in every encrypted cache file; readers
	// treat any other value as a corrupted cache.
	CacheFormatVersion = 1

	APIVersion = "v1"
)

// Set with -ldflags "-X prolicense/pkg/contracts.GitCommit=..."
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo is served by GET /api/version
type VersionInfo struct {
	Version      string `json:"version"`
	BuildTime    string `json:"build_time"`
	GitCommit    string `json:"git_commit"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CacheFormat  int    `json:"cache_format"`
	APIVersion   string `json:"api_version"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:      Version,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CacheFormat:  CacheFormatVersion,
		APIVersion:   APIVersion,
	}
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("prolicense v%s %s/%s (commit %s, built %s, %s)",
		v.Version, v.OS, v.Architecture, v.GitCommit, v.BuildTime, v.GoVersion)
}

// GetFullVersionString is what `prolicense --version` prints
func GetFullVersionString() string {
	return GetVersionInfo().String()
}

// UserAgent identifies the client to the license server
func UserAgent() string {
	return "prolicense/" + Version + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")"
}
