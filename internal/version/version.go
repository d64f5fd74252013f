// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/bgsub/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build information for logs and stored run records.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
