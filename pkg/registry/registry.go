package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
)

var logger = internal.GetLogger("registry")

type UploadRecord = meta.Upload

// Query filters ListUploads. Zero values select the defaults: the whole date
// range up to today and every status except invalid.
type Query struct {
	Site     string
	From     time.Time
	To       time.Time
	Statuses []meta.Status
}

var DefaultStatuses = []meta.Status{meta.StatusCreated, meta.StatusUploaded, meta.StatusProcessed}

// Registry owns the upload records and their status transitions.
type Registry struct {
	store     meta.UploadStore
	retention time.Duration
	now       func() time.Time
}

// New returns a Registry. retention bounds how long after its last update an
// allow-update record may still be overwritten.
func New(store meta.UploadStore, retention time.Duration) *Registry {
	return &Registry{store: store, retention: retention, now: func() time.Time { return time.Now().UTC() }}
}

// StorageKey is the object key an upload is stored under.
func StorageKey(site, id, filename string) string {
	return site + "/" + id + "/" + filename
}

// RegisterUpload creates the record for an announced file, or reuses the
// site's allow-update record of the same name.
func (r *Registry) RegisterUpload(ctx context.Context, in RegisterInput) (*UploadRecord, error) {
	const op = "registry.register"

	existing, err := r.store.FindUploadByChecksum(ctx, in.Checksum)
	switch {
	case err == nil:
		if existing.Status != meta.StatusCreated {
			return nil, internal.ConflictError(op, "File already uploaded")
		}
		// an abandoned attempt, unless it is the allow-update record about to be reused
		if !(in.AllowUpdate && existing.AllowUpdate && existing.Site == in.Site && existing.Filename == in.Filename) {
			logger.Infof("discarding abandoned upload %s holding checksum %s", existing.ID, in.Checksum)
			if err := r.store.DeleteUpload(ctx, existing.ID); err != nil && !errors.Is(err, meta.ErrNotFound) {
				return nil, storeError(op, err)
			}
		}
	case !errors.Is(err, meta.ErrNotFound):
		return nil, storeError(op, err)
	}

	now := r.now()
	if in.AllowUpdate {
		target, err := r.store.FindAllowUpdateUpload(ctx, in.Site, in.Filename)
		switch {
		case err == nil && target.Site == in.Site && target.Filename == in.Filename:
			return r.reuse(ctx, target, in, now)
		case err == nil:
			logger.Errorf("allow-update index of %s/%s points at upload %s of %s/%s, not reusing it",
				in.Site, in.Filename, target.ID, target.Site, target.Filename)
			return nil, internal.ConflictError(op, "File already exists")
		case !errors.Is(err, meta.ErrNotFound):
			return nil, storeError(op, err)
		}
	}

	id := uuid.NewString()
	rec := &UploadRecord{
		ID:              id,
		Checksum:        in.Checksum,
		Filename:        in.Filename,
		MeasurementDate: in.MeasurementDate,
		Status:          meta.StatusCreated,
		StorageKey:      StorageKey(in.Site, id, in.Filename),
		AllowUpdate:     in.AllowUpdate,
		CreatedAt:       now,
		UpdatedAt:       now,
		Site:            in.Site,
		Instrument:      in.Instrument,
		Model:           in.Model,
	}
	if err := r.store.InsertUpload(ctx, rec); err != nil {
		return nil, storeError(op, err)
	}
	logger.Infof("registered upload %s: %s (%s) for site %s", rec.ID, rec.Filename, rec.Checksum, rec.Site)
	return rec, nil
}

// reuse overwrites an allow-update record in place. The record keeps its
// identity and storage key.
func (r *Registry) reuse(ctx context.Context, target *UploadRecord, in RegisterInput, now time.Time) (*UploadRecord, error) {
	const op = "registry.register"
	if age := now.Sub(target.UpdatedAt); age > r.retention {
		return nil, internal.StaleError(op, "%s was last updated %s ago, past the %s update window",
			target.Filename, age.Round(time.Second), r.retention)
	}
	rec, err := r.store.UpdateUpload(ctx, target.ID, func(u *meta.Upload) error {
		if u.Site != in.Site || u.Filename != in.Filename {
			return internal.ConflictError(op, "upload %s belongs to another file", u.ID)
		}
		if now.Sub(u.UpdatedAt) > r.retention {
			return internal.StaleError(op, "%s is past the %s update window", u.Filename, r.retention)
		}
		u.Checksum = in.Checksum
		u.MeasurementDate = in.MeasurementDate
		u.Status = meta.StatusCreated
		u.UpdatedAt = now
		if in.Instrument != "" {
			u.Instrument = in.Instrument
		}
		if in.Model != "" {
			u.Model = in.Model
		}
		return nil
	})
	if err != nil {
		return nil, storeError(op, err)
	}
	logger.Infof("reusing allow-update upload %s: %s now %s", rec.ID, rec.Filename, rec.Checksum)
	return rec, nil
}

// Get returns the record with id.
func (r *Registry) Get(ctx context.Context, id string) (*UploadRecord, error) {
	rec, err := r.store.FindUploadByID(ctx, id)
	if err != nil {
		return nil, storeError("registry.get", err)
	}
	return rec, nil
}

// Lookup finds the record of site holding checksum.
func (r *Registry) Lookup(ctx context.Context, site, checksum string) (*UploadRecord, error) {
	const op = "registry.lookup"
	rec, err := r.store.FindUploadByChecksum(ctx, checksum)
	if err != nil {
		return nil, storeError(op, err)
	}
	if site != "" && rec.Site != site {
		return nil, internal.NotFoundError(op, "no upload with checksum %s", checksum)
	}
	return rec, nil
}

// ListUploads returns the records matching q.
func (r *Registry) ListUploads(ctx context.Context, q Query) ([]*UploadRecord, error) {
	const op = "registry.list"
	from, to := q.From, q.To
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = meta.DateOnly(r.now())
	}
	if to.Before(from) {
		return nil, internal.ValidationError(op, "dateFrom is after dateTo")
	}
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	want := make(map[meta.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	all, err := r.store.ListUploads(ctx, q.Site, from, to)
	if err != nil {
		return nil, storeError(op, err)
	}
	result := make([]*UploadRecord, 0, len(all))
	for _, u := range all {
		if want[u.Status] {
			result = append(result, u)
		}
	}
	return result, nil
}

// MarkProcessed records that the processing pipeline consumed an uploaded file.
func (r *Registry) MarkProcessed(ctx context.Context, id string) (*UploadRecord, error) {
	return r.transition(ctx, "registry.processed", id, meta.StatusProcessed)
}

// MarkInvalid flags a file as unusable. Invalid is terminal.
func (r *Registry) MarkInvalid(ctx context.Context, id string) (*UploadRecord, error) {
	return r.transition(ctx, "registry.invalid", id, meta.StatusInvalid)
}

func (r *Registry) transition(ctx context.Context, op, id string, to meta.Status) (*UploadRecord, error) {
	now := r.now()
	rec, err := r.store.UpdateUpload(ctx, id, func(u *meta.Upload) error {
		if u.Status == to {
			return nil
		}
		if !CanTransition(u.Status, to) {
			return internal.ConflictError(op, "cannot move upload %s from %s to %s", id, u.Status, to)
		}
		u.Status = to
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, storeError(op, err)
	}
	return rec, nil
}

// CanTransition reports whether from may move forward to to. Nothing leaves
// invalid and nothing moves backwards; processing requires an uploaded file.
func CanTransition(from, to meta.Status) bool {
	if from == meta.StatusInvalid || from.Rank() < 0 || to.Rank() < 0 {
		return false
	}
	switch to {
	case meta.StatusInvalid:
		return true
	case meta.StatusProcessed:
		return from == meta.StatusUploaded
	case meta.StatusUploaded:
		return from == meta.StatusCreated
	}
	return false
}

// storeError maps repository failures onto the error taxonomy.
func storeError(op string, err error) error {
	var typed *internal.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, meta.ErrNotFound):
		return internal.NotFoundError(op, "upload not found")
	case errors.Is(err, meta.ErrChecksumExists):
		return internal.ConflictError(op, "File already exists")
	}
	logger.Errorf("%s: repository failure: %v", op, err)
	return internal.TransportError(op, err)
}
