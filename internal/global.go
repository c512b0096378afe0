package internal

import "time"

var (
	GlobalMetaOperationTimeout = 10 * time.Second // single repository round trip
	GlobalAccessLogTimeout     = 5 * time.Second  // best-effort access event recording
	GlobalShutdownTimeout      = 30 * time.Second // graceful HTTP shutdown
)
