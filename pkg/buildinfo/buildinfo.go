// Package buildinfo exposes the version stamped into the binary at
// build time.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// Set via ldflags, for example:
// -X github.com/caravelhq/caravel-cli/pkg/buildinfo.Version=v0.3.1
// -X github.com/caravelhq/caravel-cli/pkg/buildinfo.Commit=4c1da92
// -X github.com/caravelhq/caravel-cli/pkg/buildinfo.BuildTime=2026-08-12T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build identity of one binary.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	GoVersion   string `json:"go_version"`
}

// Get returns the build identity under the given service name.
func Get(serviceName string) Info {
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// String formats the version as a one-liner, e.g. "v0.3.1 (4c1da92, 2026-08-12T09:00:00Z)".
func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, BuildTime)
}

// Handler serves the build identity as JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Get(serviceName))
	}
}
