// Package version reports build metadata.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/compass/internal/version.Version=0.3.0
//	  -X github.com/soyeahso/compass/internal/version.Commit=abc123
//	  -X github.com/soyeahso/compass/internal/version.Date=2026-10-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("compass %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent with every backend request.
func UserAgent() string {
	return fmt.Sprintf("compass/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
