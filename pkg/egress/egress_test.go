package egress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
	"github.com/zhengshuai-xiao/RelayS/pkg/metrics"
	"github.com/zhengshuai-xiao/RelayS/pkg/storage"
	"github.com/zhengshuai-xiao/RelayS/pkg/storage/storagetest"
)

var buckets = storage.NewBucketResolver(internal.BucketConfig{
	Upload:     "relays-upload",
	Categories: map[string]string{meta.CategoryProduct: "relays-product"},
	Legacy:     "relays-legacy",
})

func newStore(t *testing.T) *meta.RedisMeta {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return meta.NewRedisMetaWithClient(rdb, "DB0", nil)
}

func saveObject(t *testing.T, store *meta.RedisMeta, backend *storagetest.MemBackend, obj *meta.ObjectRef, content string) {
	t.Helper()
	obj.Size = int64(len(content))
	require.NoError(t, store.SaveObject(context.Background(), obj))
	bucket, err := buckets.Resolve(obj)
	require.NoError(t, err)
	backend.Add(bucket, obj.StorageKey, []byte(content))
}

func TestServe(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	backend := storagetest.NewMemBackend()
	s := New(store, store, backend, buckets, nil)

	content := "20240501 ceilometer data"
	saveObject(t, store, backend, &meta.ObjectRef{ID: "o1", Filename: "a.nc", StorageKey: "hyytiala/o1/a.nc", Category: meta.CategoryUpload}, content)

	rec := httptest.NewRecorder()
	require.NoError(t, s.Serve(ctx, rec, "o1", "a.nc", "10.0.0.1"))
	s.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.String())
	assert.Equal(t, "24", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename=a.nc`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, 0, backend.Open())

	n, err := store.AccessCount(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestServeResolvesBucket(t *testing.T) {
	store := newStore(t)
	backend := storagetest.NewMemBackend()
	s := New(store, store, backend, buckets, nil)

	saveObject(t, store, backend, &meta.ObjectRef{ID: "p1", Filename: "p.nc", StorageKey: "p.nc", Category: meta.CategoryProduct, Volatile: true}, "volatile product")
	saveObject(t, store, backend, &meta.ObjectRef{ID: "l1", Filename: "l.nc", StorageKey: "l.nc", Category: meta.CategoryProduct, Legacy: true}, "legacy product")

	_, ok := backend.Object("relays-product-volatile", "p.nc")
	require.True(t, ok)

	rec := httptest.NewRecorder()
	require.NoError(t, s.Serve(context.Background(), rec, "p1", "p.nc", "10.0.0.1"))
	assert.Equal(t, "volatile product", rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, s.Serve(context.Background(), rec, "l1", "l.nc", "10.0.0.1"))
	assert.Equal(t, "legacy product", rec.Body.String())
	s.Wait()
}

func TestServeNotFound(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	backend := storagetest.NewMemBackend()
	s := New(store, store, backend, buckets, nil)
	saveObject(t, store, backend, &meta.ObjectRef{ID: "o1", Filename: "a.nc", StorageKey: "k/a.nc"}, "x")

	err := s.Serve(ctx, httptest.NewRecorder(), "missing", "a.nc", "10.0.0.1")
	assert.True(t, internal.IsKind(err, internal.KindNotFound))

	err = s.Serve(ctx, httptest.NewRecorder(), "o1", "other.nc", "10.0.0.1")
	assert.True(t, internal.IsKind(err, internal.KindNotFound))
	s.Wait()

	n, err := store.AccessCount(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// the object vanished from the backend: the error surfaces, the access is still logged
	backend.Delete("relays-upload", "k/a.nc")
	err = s.Serve(ctx, httptest.NewRecorder(), "o1", "a.nc", "10.0.0.1")
	assert.True(t, internal.IsKind(err, internal.KindNotFound))
	s.Wait()
	n, err = store.AccessCount(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type failingAccessLog struct {
	mock.Mock
}

func (f *failingAccessLog) RecordAccess(ctx context.Context, ev meta.AccessEvent) error {
	args := f.Called(ctx, ev)
	if p := args.String(1); p != "" {
		panic(p)
	}
	return args.Error(0)
}

func (f *failingAccessLog) AccessCount(ctx context.Context, objectID string) (int64, error) {
	return 0, nil
}

func (f *failingAccessLog) RecentAccess(ctx context.Context, n int64) ([]meta.AccessEvent, error) {
	return nil, nil
}

func TestAccessLogFailureNeverSurfaces(t *testing.T) {
	store := newStore(t)
	backend := storagetest.NewMemBackend()
	m := metrics.New(prometheus.NewRegistry())
	saveObject(t, store, backend, &meta.ObjectRef{ID: "o1", Filename: "a.nc", StorageKey: "k/a.nc"}, "payload")

	access := &failingAccessLog{}
	access.On("RecordAccess", mock.Anything, mock.Anything).Return(errors.New("redis down"), "").Once()
	access.On("RecordAccess", mock.Anything, mock.Anything).Return(nil, "boom").Once()

	s := New(store, access, backend, buckets, m)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		require.NoError(t, s.Serve(context.Background(), rec, "o1", "a.nc", "10.0.0.1"))
		assert.Equal(t, "payload", rec.Body.String())
	}
	s.Wait()
	access.AssertExpectations(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AccessLogErrors))
}

// brokenWriter fails like a client that went away mid-download.
type brokenWriter struct {
	*httptest.ResponseRecorder
	budget int
}

func (b *brokenWriter) Write(p []byte) (int, error) {
	if len(p) > b.budget {
		n := b.budget
		b.budget = 0
		b.ResponseRecorder.Write(p[:n])
		return n, errors.New("write: broken pipe")
	}
	b.budget -= len(p)
	return b.ResponseRecorder.Write(p)
}

func TestServeClientGone(t *testing.T) {
	store := newStore(t)
	backend := storagetest.NewMemBackend()
	s := New(store, store, backend, buckets, nil)
	saveObject(t, store, backend, &meta.ObjectRef{ID: "o1", Filename: "a.nc", StorageKey: "k/a.nc"}, strings.Repeat("x", 1<<20))

	w := &brokenWriter{ResponseRecorder: httptest.NewRecorder(), budget: 1000}
	err := s.Serve(context.Background(), w, "o1", "a.nc", "10.0.0.1")
	require.Error(t, err)
	assert.True(t, internal.IsKind(err, internal.KindTransport))
	assert.Equal(t, 0, backend.Open(), "backend body must be closed")
	s.Wait()
}

func TestWaitWithTimeout(t *testing.T) {
	s := New(nil, nil, nil, buckets, nil)
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked without pending events")
	}
}
