package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
	"github.com/zhengshuai-xiao/RelayS/pkg/metrics"
	"github.com/zhengshuai-xiao/RelayS/pkg/storage"
)

var logger = internal.GetLogger("egress")

const copyBufferSize = 256 << 10

// Streamer serves stored objects straight from the backend to the client.
type Streamer struct {
	objects meta.ObjectStore
	access  meta.AccessLog
	backend storage.Backend
	buckets *storage.BucketResolver
	metrics *metrics.Metrics

	accessTimeout time.Duration
	pending       sync.WaitGroup
}

func New(objects meta.ObjectStore, access meta.AccessLog, backend storage.Backend, buckets *storage.BucketResolver, m *metrics.Metrics) *Streamer {
	return &Streamer{
		objects:       objects,
		access:        access,
		backend:       backend,
		buckets:       buckets,
		metrics:       m,
		accessTimeout: internal.GlobalAccessLogTimeout,
	}
}

// Serve writes object objectID to w. key must match the object's file name.
// Once the first byte is written an error can no longer change the status
// code; the caller has to abort the connection instead.
func (s *Streamer) Serve(ctx context.Context, w http.ResponseWriter, objectID, key, source string) error {
	const op = "egress"
	obj, err := s.objects.GetObject(ctx, objectID)
	if err != nil {
		s.metrics.EgressDone("not_found", 0)
		if errors.Is(err, meta.ErrNotFound) {
			return internal.NotFoundError(op, "object %s not found", objectID)
		}
		return internal.TransportError(op, err)
	}
	if obj.Filename != key {
		s.metrics.EgressDone("not_found", 0)
		return internal.NotFoundError(op, "object %s has no file %s", objectID, key)
	}
	defer s.recordAccess(objectID, source)

	bucket, err := s.buckets.Resolve(obj)
	if err != nil {
		s.metrics.EgressDone("error", 0)
		return internal.TransportError(op, err)
	}
	body, _, err := s.backend.Get(ctx, bucket, obj.StorageKey)
	if err != nil {
		s.metrics.EgressDone("error", 0)
		logger.Errorf("object %s: get %s/%s failed: %v", objectID, bucket, obj.StorageKey, err)
		return err
	}
	closed := s.metrics.StreamOpened()
	defer func() {
		body.Close()
		closed()
	}()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Filename}))
	w.WriteHeader(http.StatusOK)

	n, err := io.CopyBuffer(w, body, make([]byte, copyBufferSize))
	if err == nil && n != obj.Size {
		err = fmt.Errorf("sent %d of %d bytes", n, obj.Size)
	}
	if err != nil {
		s.metrics.EgressDone("aborted", n)
		logger.Warnf("object %s: stream to %s aborted: %v", objectID, source, err)
		return internal.TransportError(op, err)
	}
	s.metrics.EgressDone("ok", n)
	return nil
}

// recordAccess stores the access event in the background. It never fails the
// download; errors and panics are logged and counted.
func (s *Streamer) recordAccess(objectID, source string) {
	ev := meta.AccessEvent{ObjectID: objectID, Source: source, At: time.Now().UTC()}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("recording access to %s panicked: %v", objectID, r)
				s.metrics.AccessLogFailed()
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.accessTimeout)
		defer cancel()
		if err := s.access.RecordAccess(ctx, ev); err != nil {
			logger.Warnf("recording access to %s from %s: %v", objectID, source, err)
			s.metrics.AccessLogFailed()
		}
	}()
}

// Wait blocks until every pending access event has been handled.
func (s *Streamer) Wait() {
	s.pending.Wait()
}

// ObjectStats is an object together with how often it was served.
type ObjectStats struct {
	*meta.ObjectRef
	Downloads int64 `json:"downloads"`
}

func (s *Streamer) Stat(ctx context.Context, objectID string) (*ObjectStats, error) {
	const op = "egress.stat"
	obj, err := s.objects.GetObject(ctx, objectID)
	if errors.Is(err, meta.ErrNotFound) {
		return nil, internal.NotFoundError(op, "object %s not found", objectID)
	} else if err != nil {
		return nil, internal.TransportError(op, err)
	}
	n, err := s.access.AccessCount(ctx, objectID)
	if err != nil {
		return nil, internal.TransportError(op, err)
	}
	return &ObjectStats{ObjectRef: obj, Downloads: n}, nil
}

const maxRecentAccess = 1000

// RecentAccess returns the newest limit access events. limit is clamped to
// [1, 1000].
func (s *Streamer) RecentAccess(ctx context.Context, limit int64) ([]meta.AccessEvent, error) {
	if limit < 1 {
		limit = 1
	} else if limit > maxRecentAccess {
		limit = maxRecentAccess
	}
	events, err := s.access.RecentAccess(ctx, limit)
	if err != nil {
		return nil, internal.TransportError("egress.access", err)
	}
	if events == nil {
		events = []meta.AccessEvent{}
	}
	return events, nil
}
