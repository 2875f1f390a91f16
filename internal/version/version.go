// Package version carries the build identity stamped in via -ldflags.
package version

var (
	// Version is the release version reported in the startup banner.
	Version = "0.1.0"

	// GitCommit is the source revision of the build.
	GitCommit = "unknown"
)
