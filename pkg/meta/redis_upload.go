package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func (m *RedisMeta) FindUploadByID(ctx context.Context, id string) (*Upload, error) {
	return getJSON[Upload](ctx, m.rdb, m.uploadKey(id))
}

func (m *RedisMeta) FindUploadByChecksum(ctx context.Context, checksum string) (*Upload, error) {
	id, err := m.rdb.Get(ctx, m.checksumKey(checksum)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return m.FindUploadByID(ctx, id)
}

func (m *RedisMeta) FindAllowUpdateUpload(ctx context.Context, site, filename string) (*Upload, error) {
	id, err := m.rdb.Get(ctx, m.filenameKey(site, filename)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	u, err := m.FindUploadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.AllowUpdate {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *RedisMeta) InsertUpload(ctx context.Context, u *Upload) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	sumKey := m.checksumKey(u.Checksum)
	recKey := m.uploadKey(u.ID)
	keys := []string{sumKey, recKey}
	var nameKey string
	if u.AllowUpdate {
		nameKey = m.filenameKey(u.Site, u.Filename)
		keys = append(keys, nameKey)
	}
	day := dayScore(u.MeasurementDate)

	err = m.txn(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, sumKey).Result()
		if err == nil {
			logger.Tracef("InsertUpload: checksum %s held by %s", u.Checksum, owner)
			return ErrChecksumExists
		} else if err != redis.Nil {
			return err
		}
		n, err := tx.Exists(ctx, recKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("upload %s already exists", u.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recKey, data, 0)
			pipe.Set(ctx, sumKey, u.ID, 0)
			pipe.ZAdd(ctx, m.dateKey(), redis.Z{Score: day, Member: u.ID})
			pipe.ZAdd(ctx, m.siteDateKey(u.Site), redis.Z{Score: day, Member: u.ID})
			if nameKey != "" {
				pipe.Set(ctx, nameKey, u.ID, 0)
			}
			return nil
		})
		return err
	}, keys...)
	if err != nil && err != ErrChecksumExists {
		logger.Errorf("InsertUpload: failed to insert %s (%s): %v", u.ID, u.Checksum, err)
	}
	return err
}

func (m *RedisMeta) UpdateUpload(ctx context.Context, id string, fn func(u *Upload) error) (*Upload, error) {
	return m.updateUpload(ctx, id, fn, nil)
}

func (m *RedisMeta) CompleteUpload(ctx context.Context, id, checksum string, size int64, at time.Time, obj *ObjectRef) (*Upload, error) {
	var objData []byte
	if obj != nil {
		var err error
		if objData, err = json.Marshal(obj); err != nil {
			return nil, err
		}
	}
	return m.updateUpload(ctx, id, func(u *Upload) error {
		if u.Checksum != checksum {
			return ErrChecksumChanged
		}
		if u.Status != StatusCreated {
			return ErrStatusChanged
		}
		u.Status = StatusUploaded
		u.Size = size
		u.UpdatedAt = at
		return nil
	}, func(pipe redis.Pipeliner) {
		if obj != nil {
			pipe.HSet(ctx, m.objectsKey(), obj.ID, objData)
		}
	})
}

// updateUpload is the read-modify-write core of UpdateUpload. ID, Site,
// Filename, StorageKey, AllowUpdate and CreatedAt cannot be changed by fn.
func (m *RedisMeta) updateUpload(ctx context.Context, id string, fn func(u *Upload) error, extra func(pipe redis.Pipeliner)) (*Upload, error) {
	recKey := m.uploadKey(id)
	var result *Upload
	err := m.txn(ctx, func(tx *redis.Tx) error {
		cur, err := getJSON[Upload](ctx, tx, recKey)
		if err != nil {
			return err
		}
		next := *cur
		if err := fn(&next); err != nil {
			return err
		}
		next.ID, next.Site, next.Filename = cur.ID, cur.Site, cur.Filename
		next.StorageKey, next.AllowUpdate, next.CreatedAt = cur.StorageKey, cur.AllowUpdate, cur.CreatedAt

		oldSumKey, newSumKey := m.checksumKey(cur.Checksum), m.checksumKey(next.Checksum)
		releaseOld := false
		if next.Checksum != cur.Checksum {
			if err := tx.Watch(ctx, oldSumKey, newSumKey).Err(); err != nil {
				return err
			}
			owner, err := tx.Get(ctx, newSumKey).Result()
			if err == nil && owner != id {
				return ErrChecksumExists
			} else if err != nil && err != redis.Nil {
				return err
			}
			owner, err = tx.Get(ctx, oldSumKey).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			releaseOld = owner == id
		}
		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recKey, data, 0)
			if next.Checksum != cur.Checksum {
				if releaseOld {
					pipe.Del(ctx, oldSumKey)
				}
				pipe.Set(ctx, newSumKey, id, 0)
			}
			if !next.MeasurementDate.Equal(cur.MeasurementDate) {
				day := dayScore(next.MeasurementDate)
				pipe.ZAdd(ctx, m.dateKey(), redis.Z{Score: day, Member: id})
				pipe.ZAdd(ctx, m.siteDateKey(next.Site), redis.Z{Score: day, Member: id})
			}
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		if err == nil {
			result = &next
		}
		return err
	}, recKey)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteUpload removes a record together with the index entries it owns.
func (m *RedisMeta) DeleteUpload(ctx context.Context, id string) error {
	recKey := m.uploadKey(id)
	return m.txn(ctx, func(tx *redis.Tx) error {
		cur, err := getJSON[Upload](ctx, tx, recKey)
		if err != nil {
			return err
		}
		sumKey := m.checksumKey(cur.Checksum)
		nameKey := m.filenameKey(cur.Site, cur.Filename)
		if err := tx.Watch(ctx, sumKey, nameKey).Err(); err != nil {
			return err
		}
		sumOwner, err := tx.Get(ctx, sumKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		nameOwner, err := tx.Get(ctx, nameKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recKey)
			if sumOwner == id {
				pipe.Del(ctx, sumKey)
			}
			if nameOwner == id {
				pipe.Del(ctx, nameKey)
			}
			pipe.ZRem(ctx, m.dateKey(), id)
			pipe.ZRem(ctx, m.siteDateKey(cur.Site), id)
			return nil
		})
		return err
	}, recKey)
}

func (m *RedisMeta) ListUploads(ctx context.Context, site string, from, to time.Time) ([]*Upload, error) {
	key := m.dateKey()
	if site != "" {
		key = m.siteDateKey(site)
	}
	ids, err := m.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(dayScore(from)),
		Max: formatScore(dayScore(to)),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = m.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Get(ctx, m.uploadKey(id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}

	uploads := make([]*Upload, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			// deleted between the range query and the fetch
			continue
		} else if err != nil {
			return nil, err
		}
		var u Upload
		if err := json.Unmarshal(data, &u); err != nil {
			logger.Warnf("ListUploads: skip undecodable record %s: %v", ids[i], err)
			continue
		}
		uploads = append(uploads, &u)
	}
	return uploads, nil
}
