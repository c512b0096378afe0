// Copyright 2025 zhengshuai.xiao@outlook.com
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
)

var logger = internal.GetLogger("storage")

// Backend is an S3-compatible object store.
type Backend interface {
	// Put streams size bytes of r to bucket/key. contentMD5 is the base64 raw
	// digest the backend verifies; a mismatch is reported as an integrity error.
	// It returns the number of bytes the backend accepted.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentMD5 string) (int64, error)
	// Get opens bucket/key for reading. The caller must close the body.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	// MakeBucket creates bucket if it does not exist yet.
	MakeBucket(ctx context.Context, bucket string) error
	Name() string
}

// NewBackend builds the backend selected by conf.
func NewBackend(ctx context.Context, conf internal.BackendConfig) (Backend, error) {
	switch conf.Type {
	case internal.BackendMinio:
		return NewMinioBackend(conf)
	case internal.BackendAWS:
		return NewAWSBackend(ctx, conf)
	}
	return nil, fmt.Errorf("unknown backend type %q", conf.Type)
}

// splitEndpoint turns "https://host:port" into ("host:port", true).
func splitEndpoint(endpoint string) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid endpoint %q: %w", internal.RemovePassword(endpoint), err)
	}
	return u.Host, u.Scheme == "https", nil
}

// countingReader counts the bytes handed to the backend.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// mapError translates a backend error code into the error taxonomy.
func mapError(op, bucket, key, code, msg string, err error) error {
	switch code {
	case "BadDigest", "InvalidDigest", "XAmzContentChecksumMismatch":
		if msg == "" {
			msg = code
		}
		return internal.IntegrityError(op, msg, err)
	case "NoSuchKey", "NotFound":
		return internal.NotFoundError(op, "object %s/%s not found", bucket, key)
	case "NoSuchBucket":
		return internal.NotFoundError(op, "bucket %s not found", bucket)
	}
	return internal.TransportError(op, fmt.Errorf("%s/%s: %w", bucket, key, err))
}

// BucketResolver picks the bucket currently holding an object.
type BucketResolver struct {
	conf internal.BucketConfig
}

func NewBucketResolver(conf internal.BucketConfig) *BucketResolver {
	return &BucketResolver{conf: conf}
}

// UploadBucket is where ingested raw files land.
func (r *BucketResolver) UploadBucket() string {
	return r.conf.Upload
}

// Buckets lists every bucket the configuration can resolve to.
func (r *BucketResolver) Buckets() []string {
	set := internal.NewStringSet(r.conf.Upload)
	for _, b := range r.conf.Categories {
		set.Add(b)
	}
	if r.conf.Legacy != "" {
		set.Add(r.conf.Legacy)
	}
	return set.Elements()
}

// Resolve returns the bucket for obj. Objects not yet migrated stay in the
// legacy bucket; volatile objects live in "<bucket>-volatile".
func (r *BucketResolver) Resolve(obj *meta.ObjectRef) (string, error) {
	if obj.Legacy {
		if r.conf.Legacy == "" {
			return "", fmt.Errorf("object %s is legacy but no legacy bucket is configured", obj.ID)
		}
		return r.conf.Legacy, nil
	}
	bucket := r.conf.Categories[obj.Category]
	if bucket == "" {
		if obj.Category != "" && obj.Category != meta.CategoryUpload {
			return "", fmt.Errorf("no bucket configured for category %q", obj.Category)
		}
		bucket = r.conf.Upload
	}
	if obj.Volatile {
		bucket += "-volatile"
	}
	return bucket, nil
}
