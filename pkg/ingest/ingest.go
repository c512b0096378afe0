package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
	"github.com/zhengshuai-xiao/RelayS/pkg/metrics"
	"github.com/zhengshuai-xiao/RelayS/pkg/registry"
	"github.com/zhengshuai-xiao/RelayS/pkg/storage"
)

var logger = internal.GetLogger("ingest")

// Result describes a finished ingestion.
type Result struct {
	Upload *meta.Upload
	// AlreadyDone is set when the file had been ingested before and nothing
	// was sent to the backend.
	AlreadyDone bool
	Size        int64
}

// Ingestor relays upload bodies into the object store.
type Ingestor struct {
	registry *registry.Registry
	store    meta.UploadStore
	backend  storage.Backend
	buckets  *storage.BucketResolver
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(reg *registry.Registry, store meta.UploadStore, backend storage.Backend, buckets *storage.BucketResolver, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		registry: reg,
		store:    store,
		backend:  backend,
		buckets:  buckets,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest streams body, size bytes long, to the backend under the storage key
// of the created record holding checksum. The record only moves to uploaded
// once the backend has accepted the data, so any failure leaves it created
// and the client may retry.
func (i *Ingestor) Ingest(ctx context.Context, site, checksum string, body io.Reader, size int64) (*Result, error) {
	const op = "ingest"
	checksum = internal.NormalizeChecksum(checksum)
	if !internal.ValidChecksum(checksum) {
		return nil, internal.ValidationError(op, "invalid checksum %q", checksum)
	}
	if size < 0 {
		return nil, internal.ValidationError(op, "Content-Length is required")
	}

	rec, err := i.registry.Lookup(ctx, site, checksum)
	if err != nil {
		return nil, err
	}
	if rec.Status != meta.StatusCreated {
		logger.Infof("upload %s (%s) is already %s, skip", rec.ID, checksum, rec.Status)
		i.metrics.IngestDone("already_done", 0)
		return &Result{Upload: rec, AlreadyDone: true, Size: rec.Size}, nil
	}

	contentMD5, err := internal.ContentMD5(checksum)
	if err != nil {
		return nil, internal.ValidationError(op, "invalid checksum %q", checksum)
	}

	bucket := i.buckets.UploadBucket()
	start := time.Now()
	written, err := i.backend.Put(ctx, bucket, rec.StorageKey, body, size, contentMD5)
	if err != nil {
		switch internal.KindOf(err) {
		case internal.KindIntegrity:
			logger.Warnf("upload %s (%s): backend rejected content: %v", rec.ID, checksum, err)
			i.metrics.IngestDone("integrity", 0)
		default:
			logger.Errorf("upload %s (%s): put %s/%s failed: %v", rec.ID, checksum, bucket, rec.StorageKey, err)
			i.metrics.IngestDone("error", 0)
			if !internal.IsKind(err, internal.KindTransport) {
				err = internal.TransportError(op, err)
			}
		}
		return nil, err
	}

	now := i.now()
	obj := &meta.ObjectRef{
		ID:         rec.ID,
		Filename:   rec.Filename,
		StorageKey: rec.StorageKey,
		Size:       written,
		Category:   meta.CategoryUpload,
		CreatedAt:  now,
	}
	done, err := i.store.CompleteUpload(ctx, rec.ID, checksum, written, now, obj)
	switch {
	case errors.Is(err, meta.ErrChecksumChanged):
		logger.Warnf("upload %s was re-registered while %s was being stored, the client has to retry", rec.ID, checksum)
		i.metrics.IngestDone("conflict", 0)
		return nil, internal.ConflictError(op, "upload %s was re-registered with a different checksum", rec.ID)
	case errors.Is(err, meta.ErrStatusChanged):
		// a concurrent request for the same checksum got there first
		logger.Infof("upload %s (%s) completed concurrently", rec.ID, checksum)
		i.metrics.IngestDone("already_done", 0)
		current, gerr := i.registry.Get(ctx, rec.ID)
		if gerr != nil {
			return nil, gerr
		}
		return &Result{Upload: current, AlreadyDone: true, Size: current.Size}, nil
	case err != nil:
		logger.Errorf("upload %s (%s): stored %s but could not update record: %v", rec.ID, checksum, rec.StorageKey, err)
		i.metrics.IngestDone("error", 0)
		if errors.Is(err, meta.ErrNotFound) {
			return nil, internal.NotFoundError(op, "upload %s vanished", rec.ID)
		}
		return nil, internal.TransportError(op, err)
	}

	logger.Infof("upload %s: stored %s (%s) in %s", rec.ID, rec.StorageKey, humanize.IBytes(uint64(written)), time.Since(start).Round(time.Millisecond))
	i.metrics.IngestDone("uploaded", written)
	return &Result{Upload: done, Size: written}, nil
}
