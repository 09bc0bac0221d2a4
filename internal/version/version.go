package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String is the version line printed by the CLI and reported to OpenTelemetry.
func String() string {
	return fmt.Sprintf("agenteval %s (commit %s, built %s)", Version, Commit, Date)
}
