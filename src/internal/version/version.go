// Package version exposes build and version metadata.
package version

import (
	"fmt"
	"runtime"
)

// ServerMajorVersion is the reference-server protocol major version this
// client speaks. Releases with any other major version are never installed.
const ServerMajorVersion = 0

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

func GetVersion() string {
	return Version
}

func GetFullVersionInfo() string {
	return fmt.Sprintf("unity-references %s (commit: %s, built: %s, go: %s, server protocol: v%d)",
		Version, GitCommit, BuildDate, GoVersion, ServerMajorVersion)
}
