// Package version holds build-time version information for the osdrrag binary.
// The variables are populated via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/osdr-rag-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/osdr-rag-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/osdr-rag-go/internal/version.BuildDate=2025-01-01"
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// UserAgent returns the User-Agent sent on outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("osdrrag/%s", Version)
}

// String renders the one-line version banner printed by `osdrrag version`.
func String() string {
	return fmt.Sprintf("osdrrag %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
