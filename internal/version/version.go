// Package version holds build metadata injected via ldflags.
package version

// Name is the binary and service name.
const Name = "addrscore"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
