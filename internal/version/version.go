package version

import "fmt"

// Version and Commit are set at build time with -ldflags.
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full returns the version line printed by -version.
func Full() string {
	return fmt.Sprintf("feedcache %s (%s)", Version, Commit)
}
