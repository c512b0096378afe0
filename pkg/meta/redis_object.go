package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	bundleObjects   = "objects"
	bundleCreated   = "created"
	bundleUpdated   = "updated"
	bundleDownloads = "downloads"
	bundlePID       = "pid"
)

func (m *RedisMeta) SaveObject(ctx context.Context, obj *ObjectRef) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return m.rdb.HSet(ctx, m.objectsKey(), obj.ID, data).Err()
}

func (m *RedisMeta) GetObject(ctx context.Context, id string) (*ObjectRef, error) {
	return hgetJSON[ObjectRef](ctx, m.rdb, m.objectsKey(), id)
}

func (m *RedisMeta) CreateBundle(ctx context.Context, b *Bundle) error {
	objs, err := json.Marshal(b.ObjectIDs)
	if err != nil {
		return err
	}
	key := m.bundleKey(b.ID)
	return m.txn(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("bundle %s already exists", b.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				bundleObjects, objs,
				bundleCreated, b.CreatedAt.UTC().Format(time.RFC3339Nano),
				bundleUpdated, b.UpdatedAt.UTC().Format(time.RFC3339Nano),
				bundleDownloads, b.Downloads,
				bundlePID, b.PID)
			return nil
		})
		return err
	}, key)
}

func (m *RedisMeta) GetBundle(ctx context.Context, id string) (*Bundle, error) {
	fields, err := m.rdb.HGetAll(ctx, m.bundleKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	b := &Bundle{ID: id, PID: fields[bundlePID]}
	if err := json.Unmarshal([]byte(fields[bundleObjects]), &b.ObjectIDs); err != nil {
		return nil, fmt.Errorf("decode bundle %s objects: %w", id, err)
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[bundleCreated]); err != nil {
		return nil, fmt.Errorf("decode bundle %s created: %w", id, err)
	}
	if b.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields[bundleUpdated]); err != nil {
		return nil, fmt.Errorf("decode bundle %s updated: %w", id, err)
	}
	if b.Downloads, err = strconv.ParseInt(fields[bundleDownloads], 10, 64); err != nil {
		return nil, fmt.Errorf("decode bundle %s downloads: %w", id, err)
	}
	return b, nil
}

// IncrBundleDownloads bumps the counter with HINCRBY inside MULTI, so
// concurrent completions never lose an update.
func (m *RedisMeta) IncrBundleDownloads(ctx context.Context, id string, at time.Time) (int64, error) {
	key := m.bundleKey(id)
	n, err := m.rdb.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	var incr *redis.IntCmd
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, bundleDownloads, 1)
		pipe.HSet(ctx, key, bundleUpdated, at.UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (m *RedisMeta) SetBundlePID(ctx context.Context, id, pid string, at time.Time) error {
	key := m.bundleKey(id)
	n, err := m.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return m.rdb.HSet(ctx, key, bundlePID, pid, bundleUpdated, at.UTC().Format(time.RFC3339Nano)).Err()
}

func (m *RedisMeta) RecordAccess(ctx context.Context, ev AccessEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, m.accessKey(), data)
		if m.conf.AccessLogCap > 0 {
			pipe.LTrim(ctx, m.accessKey(), 0, m.conf.AccessLogCap-1)
		}
		pipe.HIncrBy(ctx, m.accessCountKey(), ev.ObjectID, 1)
		return nil
	})
	return err
}

func (m *RedisMeta) AccessCount(ctx context.Context, objectID string) (int64, error) {
	n, err := m.rdb.HGet(ctx, m.accessCountKey(), objectID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (m *RedisMeta) RecentAccess(ctx context.Context, n int64) ([]AccessEvent, error) {
	raw, err := m.rdb.LRange(ctx, m.accessKey(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]AccessEvent, 0, len(raw))
	for _, r := range raw {
		var ev AccessEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
