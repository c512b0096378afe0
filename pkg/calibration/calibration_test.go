package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(meta.NewRedisMetaWithClient(rdb, "DB0", nil))
}

func day(s string) time.Time {
	t, err := time.Parse(meta.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLookupLastValueInEffect(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, "chm15k", day("2021-01-01"), "range_offset", json.RawMessage(`1`))
	require.NoError(t, err)
	_, err = s.Put(ctx, "chm15k", day("2021-03-01"), "range_offset", json.RawMessage(`2`))
	require.NoError(t, err)

	testCases := []struct {
		name     string
		date     string
		expected string
	}{
		{"Between Entries", "2021-02-01", "1"},
		{"After Last Entry", "2021-04-01", "2"},
		{"Exact First", "2021-01-01", "1"},
		{"Exact Second", "2021-03-01", "2"},
		{"Day Before Second", "2021-02-28", "1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entry, err := s.Get(ctx, "chm15k", day(tc.date), "range_offset")
			require.NoError(t, err)
			assert.JSONEq(t, tc.expected, string(entry.Value))
		})
	}

	_, err = s.Get(ctx, "chm15k", day("2020-01-01"), "range_offset")
	assert.True(t, internal.IsKind(err, internal.KindNotFound))
	_, err = s.Get(ctx, "chm15k", day("2021-04-01"), "unknown")
	assert.True(t, internal.IsKind(err, internal.KindNotFound))
	_, err = s.Get(ctx, "other", day("2021-04-01"), "range_offset")
	assert.True(t, internal.IsKind(err, internal.KindNotFound))
}

func TestCompaction(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := s.repo

	for i, d := range []string{"2021-01-01", "2021-01-02", "2021-01-03", "2021-01-10"} {
		wrote, err := s.Put(ctx, "chm15k", day(d), "gain", json.RawMessage(`{"a": 1, "b": [1, 2]}`))
		require.NoError(t, err)
		assert.Equal(t, i == 0, wrote, d)
	}
	// key order and whitespace do not make a new value
	wrote, err := s.Put(ctx, "chm15k", day("2021-01-11"), "gain", json.RawMessage(`{"b":[1,2],"a":1}`))
	require.NoError(t, err)
	assert.False(t, wrote)

	for _, d := range []string{"2021-01-02", "2021-01-03", "2021-01-10", "2021-01-11"} {
		_, err := repo.GetCalibration(ctx, "chm15k", "gain", day(d))
		assert.ErrorIs(t, err, meta.ErrNotFound, d)
	}
	entry, err := s.Get(ctx, "chm15k", day("2021-01-20"), "gain")
	require.NoError(t, err)
	assert.Equal(t, day("2021-01-01"), entry.MeasurementDate)

	wrote, err = s.Put(ctx, "chm15k", day("2021-01-15"), "gain", json.RawMessage(`{"a": 2}`))
	require.NoError(t, err)
	assert.True(t, wrote)
	// going back to the earlier value is a change again
	wrote, err = s.Put(ctx, "chm15k", day("2021-01-16"), "gain", json.RawMessage(`{"a": 1, "b": [1, 2]}`))
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestExactDateOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	created := time.Date(2021, 1, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return created }
	_, err := s.Put(ctx, "chm15k", day("2021-01-01"), "k", json.RawMessage(`1`))
	require.NoError(t, err)
	_, err = s.Put(ctx, "chm15k", day("2021-02-01"), "k", json.RawMessage(`2`))
	require.NoError(t, err)

	updated := created.Add(48 * time.Hour)
	s.now = func() time.Time { return updated }
	// equal to the previous value, but an exact-date entry is always replaced
	wrote, err := s.Put(ctx, "chm15k", day("2021-02-01"), "k", json.RawMessage(`1`))
	require.NoError(t, err)
	assert.True(t, wrote)

	entry, err := s.Get(ctx, "chm15k", day("2021-02-01"), "k")
	require.NoError(t, err)
	assert.JSONEq(t, "1", string(entry.Value))
	assert.True(t, entry.CreatedAt.Equal(created))
	assert.True(t, entry.UpdatedAt.Equal(updated))
}

func TestGetAll(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	written, err := s.PutAll(ctx, "chm15k", day("2021-01-01"), map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`"x"`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, written)
	_, err = s.PutAll(ctx, "chm15k", day("2021-06-01"), map[string]json.RawMessage{
		"a": json.RawMessage(`2`),
		"c": json.RawMessage(`true`),
	})
	require.NoError(t, err)

	all, err := s.GetAll(ctx, "chm15k", day("2021-03-01"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.JSONEq(t, "1", string(all["a"].Value))
	assert.JSONEq(t, `"x"`, string(all["b"].Value))

	all, err = s.GetAll(ctx, "chm15k", day("2021-06-01"))
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.JSONEq(t, "2", string(all["a"].Value))
	assert.JSONEq(t, "true", string(all["c"].Value))

	all, err = s.GetAll(ctx, "chm15k", day("2020-01-01"))
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPutValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Put(ctx, "", day("2021-01-01"), "k", json.RawMessage(`1`))
	assert.True(t, internal.IsKind(err, internal.KindValidation))
	_, err = s.Put(ctx, "chm15k", day("2021-01-01"), "", json.RawMessage(`1`))
	assert.True(t, internal.IsKind(err, internal.KindValidation))
	_, err = s.Put(ctx, "chm15k", day("2021-01-01"), "k", json.RawMessage(`{`))
	assert.True(t, internal.IsKind(err, internal.KindValidation))
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetCalibration(ctx context.Context, instrument, key string, date time.Time) (*meta.Calibration, error) {
	args := m.Called(instrument, key, date)
	c, _ := args.Get(0).(*meta.Calibration)
	return c, args.Error(1)
}

func (m *mockRepo) LatestCalibration(ctx context.Context, instrument, key string, date time.Time, inclusive bool) (*meta.Calibration, error) {
	args := m.Called(instrument, key, date, inclusive)
	c, _ := args.Get(0).(*meta.Calibration)
	return c, args.Error(1)
}

func (m *mockRepo) PutCalibration(ctx context.Context, c *meta.Calibration) error {
	return m.Called(c).Error(0)
}

func (m *mockRepo) CalibrationKeys(ctx context.Context, instrument string) ([]string, error) {
	args := m.Called(instrument)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

func TestRepositoryFailure(t *testing.T) {
	repo := new(mockRepo)
	down := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	repo.On("GetCalibration", "chm15k", "k", mock.Anything).Return(nil, meta.ErrNotFound)
	repo.On("LatestCalibration", "chm15k", "k", mock.Anything, mock.Anything).Return(nil, down)
	repo.On("CalibrationKeys", "chm15k").Return(nil, down)

	s := New(repo)
	_, err := s.Put(context.Background(), "chm15k", day("2021-01-01"), "k", json.RawMessage(`1`))
	assert.True(t, internal.IsKind(err, internal.KindTransport))
	_, err = s.Get(context.Background(), "chm15k", day("2021-01-01"), "k")
	assert.True(t, internal.IsKind(err, internal.KindTransport))
	_, err = s.GetAll(context.Background(), "chm15k", day("2021-01-01"))
	assert.True(t, internal.IsKind(err, internal.KindTransport))
	repo.AssertNotCalled(t, "PutCalibration", mock.Anything)
}

func TestParsePutInput(t *testing.T) {
	in, err := ParsePutInput([]byte(`{"measurementDate": "2021-01-01", "data": {"range_offset": 1.5}}`))
	require.NoError(t, err)
	assert.Equal(t, day("2021-01-01"), in.MeasurementDate)
	assert.JSONEq(t, "1.5", string(in.Values["range_offset"]))

	testCases := []struct {
		name string
		body string
	}{
		{"Not JSON", `{`},
		{"Missing Date", `{"data": {"a": 1}}`},
		{"Bad Date", `{"measurementDate": "01/01/2021", "data": {"a": 1}}`},
		{"No Data", `{"measurementDate": "2021-01-01"}`},
		{"Empty Key", `{"measurementDate": "2021-01-01", "data": {"": 1}}`},
		{"Date Not String", `{"measurementDate": 20210101, "data": {"a": 1}}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePutInput([]byte(tc.body))
			assert.True(t, internal.IsKind(err, internal.KindValidation))
		})
	}
}

func TestSeparatorsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Put(ctx, "lidar:1", day("2021-01-01"), "gain", json.RawMessage(`1`))
	require.NoError(t, err)

	_, err = s.Get(ctx, "lidar", day("2021-02-01"), "1:gain")
	assert.True(t, internal.IsKind(err, internal.KindNotFound))

	all, err := s.GetAll(ctx, "lidar", day("2021-02-01"))
	require.NoError(t, err)
	assert.Empty(t, all)

	entry, err := s.Get(ctx, "lidar:1", day("2021-02-01"), "gain")
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(entry.Value))
}
