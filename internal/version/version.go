// Package version holds build metadata stamped in at link time.
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
