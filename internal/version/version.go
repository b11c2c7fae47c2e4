// Package version carries build-time identifying information, set via
// -ldflags at build time. Left at defaults for local/dev builds.
package version

var (
	Version = "dev"
	Commit  = "none"
)
