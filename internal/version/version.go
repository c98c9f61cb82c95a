// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

// ldflagsで上書きされる
var (
	Version = "dev"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info is the build metadata reported by /health.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	BuiltAt string `json:"built_at"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, BuiltAt: BuiltAt}
}

func String() string {
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, Commit, BuiltAt)
}
