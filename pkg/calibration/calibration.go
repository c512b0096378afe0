package calibration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"time"

	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
)

var logger = internal.GetLogger("calibration")

// Entry is one stored calibration value, effective from its measurement date
// until a later entry for the same key supersedes it.
type Entry = meta.Calibration

// Store keeps compacted per-instrument calibration series.
type Store struct {
	repo meta.CalibrationStore
	now  func() time.Time
}

func New(repo meta.CalibrationStore) *Store {
	return &Store{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Put records value for key from date on. An entry at the exact date is
// overwritten; otherwise nothing is written when the value already in effect
// is equal to value. It reports whether anything was stored.
func (s *Store) Put(ctx context.Context, instrument string, date time.Time, key string, value json.RawMessage) (bool, error) {
	const op = "calibration.put"
	if instrument == "" || key == "" {
		return false, internal.ValidationError(op, "instrument and key are required")
	}
	if !json.Valid(value) {
		return false, internal.ValidationError(op, "value of %q is not valid JSON", key)
	}
	date = meta.DateOnly(date)
	now := s.now()
	entry := &Entry{
		Instrument:      instrument,
		Key:             key,
		MeasurementDate: date,
		Value:           compact(value),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	existing, err := s.repo.GetCalibration(ctx, instrument, key, date)
	switch {
	case err == nil:
		entry.CreatedAt = existing.CreatedAt
		if err := s.repo.PutCalibration(ctx, entry); err != nil {
			return false, internal.TransportError(op, err)
		}
		logger.Debugf("%s/%s: overwrote entry of %s", instrument, key, date.Format(meta.DateLayout))
		return true, nil
	case !errors.Is(err, meta.ErrNotFound):
		return false, internal.TransportError(op, err)
	}

	prev, err := s.repo.LatestCalibration(ctx, instrument, key, date, false)
	if err == nil {
		equal, err := sameValue(prev.Value, entry.Value)
		if err != nil {
			return false, internal.TransportError(op, err)
		}
		if equal {
			return false, nil
		}
	} else if !errors.Is(err, meta.ErrNotFound) {
		return false, internal.TransportError(op, err)
	}

	if err := s.repo.PutCalibration(ctx, entry); err != nil {
		return false, internal.TransportError(op, err)
	}
	logger.Infof("%s/%s: new value from %s", instrument, key, date.Format(meta.DateLayout))
	return true, nil
}

// PutAll stores every key of values at date and returns the keys that were
// written.
func (s *Store) PutAll(ctx context.Context, instrument string, date time.Time, values map[string]json.RawMessage) ([]string, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var written []string
	for _, k := range keys {
		ok, err := s.Put(ctx, instrument, date, k, values[k])
		if err != nil {
			return written, err
		}
		if ok {
			written = append(written, k)
		}
	}
	return written, nil
}

// Get returns the entry at date, or else the last one before it.
func (s *Store) Get(ctx context.Context, instrument string, date time.Time, key string) (*Entry, error) {
	const op = "calibration.get"
	entry, err := s.repo.LatestCalibration(ctx, instrument, key, date, true)
	if errors.Is(err, meta.ErrNotFound) {
		return nil, internal.NotFoundError(op, "no calibration %q for %s on %s", key, instrument, meta.DateOnly(date).Format(meta.DateLayout))
	} else if err != nil {
		return nil, internal.TransportError(op, err)
	}
	return entry, nil
}

// GetAll returns the value in effect at date for every key the instrument
// ever recorded. Keys without an entry at or before date are left out.
func (s *Store) GetAll(ctx context.Context, instrument string, date time.Time) (map[string]Entry, error) {
	const op = "calibration.getall"
	keys, err := s.repo.CalibrationKeys(ctx, instrument)
	if err != nil {
		return nil, internal.TransportError(op, err)
	}
	out := make(map[string]Entry, len(keys))
	for _, key := range keys {
		entry, err := s.repo.LatestCalibration(ctx, instrument, key, date, true)
		if errors.Is(err, meta.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, internal.TransportError(op, err)
		}
		out[key] = *entry
	}
	return out, nil
}

func sameValue(a, b json.RawMessage) (bool, error) {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false, err
	}
	return reflect.DeepEqual(va, vb), nil
}

func compact(value json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return value
	}
	return buf.Bytes()
}
