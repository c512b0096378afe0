package meta

import (
	"fmt"
	"strconv"
	"strings"
)

// WATCH/MULTI, ZSET range queries and HINCRBY are all available from 4.0.
const minRedisMajor = 4

// serverInfo holds the INFO fields the repository cares about.
type serverInfo struct {
	version        string
	aof            bool
	evictionPolicy string
	// keyDB on flash manages eviction itself
	flash bool
}

// parseServerInfo reads the "key:value" lines of an INFO reply.
func parseServerInfo(raw string) serverInfo {
	var info serverInfo
	for _, line := range strings.Split(raw, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || strings.HasPrefix(key, "#") {
			continue
		}
		switch key {
		case "redis_version":
			info.version = val
		case "aof_enabled":
			info.aof = val == "1"
		case "maxmemory_policy":
			info.evictionPolicy = val
		case "storage_provider":
			info.flash = val == "flash"
		}
	}
	return info
}

// validate rejects servers too old for the transactions the repository runs.
func (i serverInfo) validate() error {
	major, _, ok := strings.Cut(i.version, ".")
	if !ok {
		return fmt.Errorf("invalid redis version %q", i.version)
	}
	n, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("invalid redis version %q: %w", i.version, err)
	}
	if n < minRedisMajor {
		return fmt.Errorf("redis %s is not supported, need %d.0 or newer", i.version, minRedisMajor)
	}
	return nil
}

// evicts reports whether the server may drop keys under memory pressure.
func (i serverInfo) evicts() bool {
	return !i.flash && i.evictionPolicy != "" && i.evictionPolicy != "noeviction"
}
