package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

var logger = internal.GetLogger("meta")

/*
Keys (prefix is "DB$n"):

Upload:           UPL:$id -> json(Upload)
Checksum index:   UPLSUM:$checksum -> $id
Allow-update:     UPLNAME:<site>:<filename> -> $id
Date index:       UPLDATE -> zset{$id: day}, UPLDATE:$site -> zset{$id: day}
Objects:          OBJ -> {$id -> json(ObjectRef)}
Bundle:           BDL:$id -> {objects, created, updated, downloads, pid}
Access log:       ACCESS -> list[json(AccessEvent)], ACCESSCNT -> {$objectID -> count}
Calibration:      CAL:<inst>:<key> -> zset{$date: day}
                  CALV:<inst>:<key> -> {$date -> json(Calibration)}
                  CALK:$inst -> set{$key}

Redis features:

	Sorted Set: 1.2+
	Hash Set: 4.0+
	Transaction: 2.2+

<x> is len(x) "." x, so a separator inside a site, instrument or key cannot
make two tuples share a key.
*/

type RedisMeta struct {
	rdb    redis.UniversalClient
	prefix string
	conf   Config
}

var _ MDS = (*RedisMeta)(nil)

// NewRedisMeta returns a repository backed by Redis.
// NewRedisMeta("127.0.0.1:6379/1", conf)
func NewRedisMeta(addr string, conf *Config) (*RedisMeta, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	rdb, db, err := newRedisClient(addr, conf)
	if err != nil {
		return nil, err
	}
	m := NewRedisMetaWithClient(rdb, fmt.Sprintf("DB%d", db), conf)
	if err := m.checkServerConfig(); err != nil {
		rdb.Close()
		return nil, err
	}
	return m, nil
}

// NewRedisMetaWithClient wraps an existing client. All keys are prefixed with prefix.
func NewRedisMetaWithClient(rdb redis.UniversalClient, prefix string, conf *Config) *RedisMeta {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &RedisMeta{rdb: rdb, prefix: prefix, conf: *conf}
}

func (m *RedisMeta) checkServerConfig() error {
	ctx := context.Background()
	rawInfo, err := m.rdb.Info(ctx).Result()
	if err != nil {
		logger.Warnf("parse info: %s", err)
		return nil
	}
	info := parseServerInfo(rawInfo)
	if err := info.validate(); err != nil {
		return err
	}
	if !info.aof {
		logger.Warnf("AOF is disabled, upload records may be lost if redis is not shut down cleanly")
	}
	if info.evicts() {
		logger.Warnf("maxmemory_policy is %q, switching it to noeviction", info.evictionPolicy)
		if err := m.rdb.ConfigSet(ctx, "maxmemory-policy", "noeviction").Err(); err != nil {
			logger.Errorf("setting maxmemory-policy to noeviction: %s", err)
		}
	}
	start := time.Now()
	if err := m.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Infof("Ping redis latency: %s", time.Since(start))
	return nil
}

func (m *RedisMeta) Name() string {
	return "redis"
}

func (m *RedisMeta) Shutdown() error {
	return m.rdb.Close()
}

// Ping reports whether the metadata server is reachable.
func (m *RedisMeta) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

func (m *RedisMeta) uploadKey(id string) string { return m.prefix + "UPL:" + id }
func (m *RedisMeta) checksumKey(sum string) string { return m.prefix + "UPLSUM:" + sum }
func (m *RedisMeta) filenameKey(site, filename string) string {
	return m.prefix + "UPLNAME:" + joinKey(site, filename)
}
func (m *RedisMeta) dateKey() string { return m.prefix + "UPLDATE" }
func (m *RedisMeta) siteDateKey(site string) string { return m.prefix + "UPLDATE:" + site }
func (m *RedisMeta) objectsKey() string { return m.prefix + "OBJ" }
func (m *RedisMeta) bundleKey(id string) string { return m.prefix + "BDL:" + id }
func (m *RedisMeta) accessKey() string { return m.prefix + "ACCESS" }
func (m *RedisMeta) accessCountKey() string { return m.prefix + "ACCESSCNT" }
func (m *RedisMeta) calSeriesKey(inst, key string) string {
	return m.prefix + "CAL:" + joinKey(inst, key)
}
func (m *RedisMeta) calValuesKey(inst, key string) string {
	return m.prefix + "CALV:" + joinKey(inst, key)
}
func (m *RedisMeta) calKeysKey(inst string) string { return m.prefix + "CALK:" + inst }

func joinKey(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte('.')
		b.WriteString(p)
	}
	return b.String()
}

// dayScore is the number of days since the Unix epoch.
func dayScore(t time.Time) float64 {
	return math.Floor(float64(DateOnly(t).Unix()) / 86400)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// txn runs fn inside an optimistic WATCH transaction, retrying on conflicts.
func (m *RedisMeta) txn(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	retries := m.conf.TxRetries
	if retries <= 0 {
		retries = 1
	}
	var err error
	for i := 0; i < retries; i++ {
		err = m.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		logger.Tracef("transaction on %v conflicted, retry %d", keys, i+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond * time.Duration(i+1)):
		}
	}
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type hgetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func hgetJSON[T any](ctx context.Context, c hgetter, key, field string) (*T, error) {
	data, err := c.HGet(ctx, key, field).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", key, field, err)
	}
	return v, nil
}
