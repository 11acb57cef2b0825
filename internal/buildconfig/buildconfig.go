// Package buildconfig exposes build identity injected via -ldflags, e.g.
//
//	-X github.com/drophq/drophq/internal/buildconfig.version=v1.2.3
package buildconfig

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Version returns the build version.
func Version() string {
	return version
}

// Commit returns the git commit hash.
func Commit() string {
	return commit
}

// BuildDate returns the build timestamp.
func BuildDate() string {
	return date
}

// VersionInfo returns the full build identity for health and metrics
// responses.
func VersionInfo() map[string]string {
	return map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
}
