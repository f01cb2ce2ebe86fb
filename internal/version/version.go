// Package version holds build information set through -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X github.com/zammy/zammy/internal/version.Version=1.2.0"
var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildDate = "unknown"
)

// String returns a one-line build description
func String() string {
	return fmt.Sprintf("zammy %s (commit %s, built %s)", Version, Commit, BuildDate)
}
