// Package version holds the identifiers stamped into the relay binary.
//
// Release builds overwrite the defaults with -X flags, e.g.:
//
//	go build -ldflags "-X github.com/sameerk/feedrelay/internal/version.Version=1.0.0 \
//	                   -X github.com/sameerk/feedrelay/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/sameerk/feedrelay/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	// Version is the release tag; "dev" for unstamped local builds.
	Version = "dev"

	// Commit is the short git hash of the built tree.
	Commit = "unknown"

	// BuildTime is when the binary was built, UTC ISO 8601.
	BuildTime = "unknown"
)

// String combines the three identifiers into one log-friendly line.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
