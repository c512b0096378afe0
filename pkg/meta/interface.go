package meta

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrChecksumExists  = errors.New("checksum already registered")
	ErrStatusChanged   = errors.New("status changed concurrently")
	ErrChecksumChanged = errors.New("record re-registered with another checksum")
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusUploaded  Status = "uploaded"
	StatusProcessed Status = "processed"
	StatusInvalid   Status = "invalid"
)

// Rank orders statuses along the upload lifecycle. Invalid is terminal.
func (s Status) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusUploaded:
		return 1
	case StatusProcessed:
		return 2
	case StatusInvalid:
		return 3
	}
	return -1
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Upload is the persisted upload record.
type Upload struct {
	ID              string    `json:"id"`
	Checksum        string    `json:"checksum"`
	Filename        string    `json:"filename"`
	MeasurementDate time.Time `json:"measurementDate"`
	Size            int64     `json:"size"`
	Status          Status    `json:"status"`
	StorageKey      string    `json:"storageKey"`
	AllowUpdate     bool      `json:"allowUpdate"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Site            string    `json:"site"`
	Instrument      string    `json:"instrument,omitempty"`
	Model           string    `json:"model,omitempty"`
}

const (
	CategoryUpload  = "upload"
	CategoryProduct = "product"
)

// ObjectRef is a stored immutable object that can be served or bundled.
type ObjectRef struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	StorageKey string    `json:"storageKey"`
	Size       int64     `json:"size"`
	Category   string    `json:"category"`
	Volatile   bool      `json:"volatile,omitempty"`
	Legacy     bool      `json:"legacy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Bundle struct {
	ID        string    `json:"id"`
	ObjectIDs []string  `json:"objectIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Downloads int64     `json:"downloads"`
	PID       string    `json:"pid,omitempty"`
}

type AccessEvent struct {
	ObjectID string    `json:"objectId"`
	Source   string    `json:"source"`
	At       time.Time `json:"at"`
}

type Calibration struct {
	Instrument      string          `json:"instrument"`
	Key             string          `json:"key"`
	MeasurementDate time.Time       `json:"measurementDate"`
	Value           json.RawMessage `json:"value"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type UploadStore interface {
	FindUploadByChecksum(ctx context.Context, checksum string) (*Upload, error)
	FindUploadByID(ctx context.Context, id string) (*Upload, error)
	// FindAllowUpdateUpload returns the allow-update record of site named filename.
	FindAllowUpdateUpload(ctx context.Context, site, filename string) (*Upload, error)
	// InsertUpload fails with ErrChecksumExists if another live record holds the checksum.
	InsertUpload(ctx context.Context, u *Upload) error
	// UpdateUpload applies fn to the current record and persists it atomically,
	// keeping the checksum, date and filename indexes in step.
	UpdateUpload(ctx context.Context, id string, fn func(u *Upload) error) (*Upload, error)
	// CompleteUpload moves a created record still holding checksum to uploaded
	// and registers obj in the same transaction. ErrChecksumChanged if the
	// record now holds another checksum, ErrStatusChanged if it is no longer
	// created.
	CompleteUpload(ctx context.Context, id, checksum string, size int64, at time.Time, obj *ObjectRef) (*Upload, error)
	DeleteUpload(ctx context.Context, id string) error
	// ListUploads returns records of site (all sites when empty) whose
	// measurement date lies in [from, to].
	ListUploads(ctx context.Context, site string, from, to time.Time) ([]*Upload, error)
}

type ObjectStore interface {
	SaveObject(ctx context.Context, obj *ObjectRef) error
	GetObject(ctx context.Context, id string) (*ObjectRef, error)
}

type BundleStore interface {
	CreateBundle(ctx context.Context, b *Bundle) error
	GetBundle(ctx context.Context, id string) (*Bundle, error)
	// IncrBundleDownloads atomically increments the download counter.
	IncrBundleDownloads(ctx context.Context, id string, at time.Time) (int64, error)
	SetBundlePID(ctx context.Context, id, pid string, at time.Time) error
}

type AccessLog interface {
	RecordAccess(ctx context.Context, ev AccessEvent) error
	AccessCount(ctx context.Context, objectID string) (int64, error)
	// RecentAccess returns up to n events, newest first.
	RecentAccess(ctx context.Context, n int64) ([]AccessEvent, error)
}

type CalibrationStore interface {
	GetCalibration(ctx context.Context, instrument, key string, date time.Time) (*Calibration, error)
	// LatestCalibration returns the newest entry before date, or at date when inclusive.
	LatestCalibration(ctx context.Context, instrument, key string, date time.Time, inclusive bool) (*Calibration, error)
	PutCalibration(ctx context.Context, c *Calibration) error
	CalibrationKeys(ctx context.Context, instrument string) ([]string, error)
}

// MDS is the full repository used by the server.
type MDS interface {
	UploadStore
	ObjectStore
	BundleStore
	AccessLog
	CalibrationStore
	Name() string
	Shutdown() error
}

// DateLayout is the wire and key format of measurement dates.
const DateLayout = "2006-01-02"

// DateOnly truncates t to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}
