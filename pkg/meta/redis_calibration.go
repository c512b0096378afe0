package meta

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func (m *RedisMeta) GetCalibration(ctx context.Context, instrument, key string, date time.Time) (*Calibration, error) {
	return hgetJSON[Calibration](ctx, m.rdb, m.calValuesKey(instrument, key), DateOnly(date).Format(DateLayout))
}

func (m *RedisMeta) LatestCalibration(ctx context.Context, instrument, key string, date time.Time, inclusive bool) (*Calibration, error) {
	upper := formatScore(dayScore(date))
	if !inclusive {
		upper = "(" + upper
	}
	dates, err := m.rdb.ZRevRangeByScore(ctx, m.calSeriesKey(instrument, key), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: 1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, ErrNotFound
	}
	return hgetJSON[Calibration](ctx, m.rdb, m.calValuesKey(instrument, key), dates[0])
}

// PutCalibration stores c at its date, replacing any entry of the same day.
func (m *RedisMeta) PutCalibration(ctx context.Context, c *Calibration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	date := DateOnly(c.MeasurementDate)
	member := date.Format(DateLayout)
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, m.calSeriesKey(c.Instrument, c.Key), redis.Z{Score: dayScore(date), Member: member})
		pipe.HSet(ctx, m.calValuesKey(c.Instrument, c.Key), member, data)
		pipe.SAdd(ctx, m.calKeysKey(c.Instrument), c.Key)
		return nil
	})
	return err
}

func (m *RedisMeta) CalibrationKeys(ctx context.Context, instrument string) ([]string, error) {
	keys, err := m.rdb.SMembers(ctx, m.calKeysKey(instrument)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
