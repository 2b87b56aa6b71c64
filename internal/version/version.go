// Package version carries build identity, stamped via -ldflags.
package version

var (
	// Version is the release version.
	Version = "dev"

	// Commit is the VCS revision the binary was built from.
	Commit = "unknown"
)
