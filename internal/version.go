package internal

import "fmt"

var (
	version      = "0.3.0"
	revision     = "$Format:%h$"
	revisionDate = "$Format:%as$"
)

// Version returns the build version string, "0.3.0+2025-09-01.abc1234".
func Version() string {
	return fmt.Sprintf("%s+%s.%s", version, revisionDate, revision)
}
