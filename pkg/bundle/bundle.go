package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/archive"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
	"github.com/zhengshuai-xiao/RelayS/pkg/metrics"
	"github.com/zhengshuai-xiao/RelayS/pkg/storage"
)

var logger = internal.GetLogger("bundle")

// Store is the part of the repository the bundler needs.
type Store interface {
	meta.ObjectStore
	meta.BundleStore
}

// Bundler streams a bundle's objects as one archive.
type Bundler struct {
	store   Store
	backend storage.Backend
	buckets *storage.BucketResolver
	format  string
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store Store, backend storage.Backend, buckets *storage.BucketResolver, format string, m *metrics.Metrics) *Bundler {
	if format == "" {
		format = internal.ArchiveZip
	}
	return &Bundler{
		store:   store,
		backend: backend,
		buckets: buckets,
		format:  format,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Format is the archive format Stream writes.
func (b *Bundler) Format() string {
	return b.format
}

// Create registers a bundle over objectIDs, which must all exist.
func (b *Bundler) Create(ctx context.Context, objectIDs []string, pid string) (*meta.Bundle, error) {
	const op = "bundle.create"
	if len(objectIDs) == 0 {
		return nil, internal.ValidationError(op, "a bundle needs at least one object")
	}
	seen := make(map[string]bool, len(objectIDs))
	for _, id := range objectIDs {
		if seen[id] {
			return nil, internal.ValidationError(op, "object %s listed twice", id)
		}
		seen[id] = true
		if _, err := b.store.GetObject(ctx, id); err != nil {
			if errors.Is(err, meta.ErrNotFound) {
				return nil, internal.ValidationError(op, "object %s does not exist", id)
			}
			return nil, internal.TransportError(op, err)
		}
	}
	now := b.now()
	bundle := &meta.Bundle{
		ID:        uuid.NewString(),
		ObjectIDs: append([]string(nil), objectIDs...),
		CreatedAt: now,
		UpdatedAt: now,
		PID:       pid,
	}
	if err := b.store.CreateBundle(ctx, bundle); err != nil {
		return nil, internal.TransportError(op, err)
	}
	logger.Infof("created bundle %s with %d objects", bundle.ID, len(objectIDs))
	return bundle, nil
}

func (b *Bundler) Get(ctx context.Context, id string) (*meta.Bundle, error) {
	bundle, err := b.store.GetBundle(ctx, id)
	if errors.Is(err, meta.ErrNotFound) {
		return nil, internal.NotFoundError("bundle.get", "bundle %s not found", id)
	} else if err != nil {
		return nil, internal.TransportError("bundle.get", err)
	}
	return bundle, nil
}

// SetPID attaches an external persistent identifier to a bundle.
func (b *Bundler) SetPID(ctx context.Context, id, pid string) error {
	err := b.store.SetBundlePID(ctx, id, pid, b.now())
	if errors.Is(err, meta.ErrNotFound) {
		return internal.NotFoundError("bundle.pid", "bundle %s not found", id)
	} else if err != nil {
		return internal.TransportError("bundle.pid", err)
	}
	return nil
}

// fetched is one object body handed from the producer to the archive writer.
type fetched struct {
	obj  *meta.ObjectRef
	body io.ReadCloser
	err  error
}

// Stream writes the archive of bundle id to w. Objects are fetched strictly
// one after another: the producer opens object i+1 only after the writer has
// finished and closed object i. On any failure the archive is left without
// its trailer so a client can never mistake it for a complete download.
func (b *Bundler) Stream(ctx context.Context, w io.Writer, id string) error {
	const op = "bundle.stream"
	bundle, err := b.Get(ctx, id)
	if err != nil {
		return err
	}
	aw, err := archive.New(b.format, w)
	if err != nil {
		return internal.TransportError(op, err)
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	token := make(chan struct{}, 1)
	items := make(chan fetched)
	token <- struct{}{}
	go b.produce(ctx, bundle, token, items)

	names := make(map[string]bool, len(bundle.ObjectIDs))
	var streamErr error
	for item := range items {
		if item.err != nil {
			streamErr = item.err
			break
		}
		streamErr = b.appendEntry(ctx, aw, item, names)
		if streamErr != nil {
			break
		}
		token <- struct{}{}
	}
	if streamErr == nil {
		streamErr = ctx.Err()
	}
	if streamErr != nil {
		cancel()
		// drain so the producer can exit and close what it already opened
		for item := range items {
			if item.body != nil {
				item.body.Close()
			}
		}
		b.metrics.BundleDone(resultOf(streamErr), time.Since(start))
		logger.Warnf("bundle %s: stream aborted after %s: %v", id, time.Since(start).Round(time.Millisecond), streamErr)
		return streamErr
	}

	if err := aw.Close(); err != nil {
		b.metrics.BundleDone("aborted", time.Since(start))
		return internal.TransportError(op, err)
	}
	// counted only for complete downloads; the download itself already succeeded
	if _, err := b.store.IncrBundleDownloads(context.WithoutCancel(ctx), id, b.now()); err != nil {
		logger.Errorf("bundle %s: failed to count download: %v", id, err)
	}
	b.metrics.BundleDone("ok", time.Since(start))
	logger.Infof("bundle %s: streamed %d objects in %s", id, len(bundle.ObjectIDs), time.Since(start).Round(time.Millisecond))
	return nil
}

// produce fetches the bundle's objects in order, each one only after taking
// the token the consumer returns once the previous body is closed.
func (b *Bundler) produce(ctx context.Context, bundle *meta.Bundle, token <-chan struct{}, items chan<- fetched) {
	defer close(items)
	for _, objectID := range bundle.ObjectIDs {
		select {
		case <-ctx.Done():
			return
		case <-token:
		}
		item := b.fetch(ctx, bundle.ID, objectID)
		select {
		case items <- item:
		case <-ctx.Done():
			if item.body != nil {
				item.body.Close()
			}
			return
		}
		if item.err != nil {
			return
		}
	}
}

func (b *Bundler) fetch(ctx context.Context, bundleID, objectID string) fetched {
	const op = "bundle.stream"
	obj, err := b.store.GetObject(ctx, objectID)
	if errors.Is(err, meta.ErrNotFound) {
		logger.Errorf("bundle %s: object %s vanished from the registry", bundleID, objectID)
		return fetched{err: internal.PartialBundleError(op, "object %s of bundle %s is missing", objectID, bundleID)}
	} else if err != nil {
		return fetched{err: internal.TransportError(op, err)}
	}
	bucket, err := b.buckets.Resolve(obj)
	if err != nil {
		return fetched{err: internal.TransportError(op, err)}
	}
	body, _, err := b.backend.Get(ctx, bucket, obj.StorageKey)
	if err != nil {
		if internal.IsKind(err, internal.KindNotFound) {
			logger.Errorf("bundle %s: object %s vanished from %s/%s", bundleID, objectID, bucket, obj.StorageKey)
			return fetched{err: internal.PartialBundleError(op, "object %s of bundle %s is missing", objectID, bundleID)}
		}
		return fetched{err: err}
	}
	return fetched{obj: obj, body: &trackedBody{ReadCloser: body, done: b.metrics.StreamOpened()}}
}

// trackedBody keeps the open-streams gauge in step with the backend body.
type trackedBody struct {
	io.ReadCloser
	done func()
	once sync.Once
}

func (t *trackedBody) Close() error {
	err := t.ReadCloser.Close()
	t.once.Do(t.done)
	return err
}

func (b *Bundler) appendEntry(ctx context.Context, aw archive.Writer, item fetched, names map[string]bool) error {
	defer item.body.Close()
	name := item.obj.Filename
	if names[name] {
		name = item.obj.ID + "/" + name
	}
	names[name] = true
	err := aw.Append(ctx, archive.Entry{Name: name, Size: item.obj.Size, ModTime: item.obj.CreatedAt}, item.body)
	if err != nil {
		return internal.TransportError("bundle.stream", fmt.Errorf("object %s: %w", item.obj.ID, err))
	}
	return nil
}

func resultOf(err error) string {
	switch {
	case internal.IsKind(err, internal.KindPartialBundle):
		return "partial"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "aborted"
}
