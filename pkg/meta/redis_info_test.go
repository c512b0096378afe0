package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerInfo(t *testing.T) {
	testCases := []struct {
		name   string
		raw    string
		valid  bool
		evicts bool
	}{
		{"Redis 6 with LRU", "# Server\r\nredis_version:6.2.14\r\n# Persistence\r\naof_enabled:1\r\n# Memory\r\nmaxmemory_policy:allkeys-lru\r\n", true, true},
		{"Redis 7 noeviction", "redis_version:7.2.4\nmaxmemory_policy:noeviction\n", true, false},
		{"KeyDB on flash", "redis_version:6.3.4\nmaxmemory_policy:allkeys-lru\nstorage_provider:flash\n", true, false},
		{"Too old", "redis_version:3.0.7\n", false, false},
		{"No version", "# Server\r\n", false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			info := parseServerInfo(tc.raw)
			assert.Equal(t, tc.valid, info.validate() == nil)
			assert.Equal(t, tc.evicts, info.evicts())
		})
	}

	info := parseServerInfo("redis_version:6.2.14\r\naof_enabled:1\r\n")
	assert.Equal(t, "6.2.14", info.version)
	assert.True(t, info.aof)
}
