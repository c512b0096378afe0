// Package storagetest provides storage.Backend doubles for tests.
package storagetest

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock of storage.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentMD5 string) (int64, error) {
	args := m.Called(ctx, bucket, key, r, size, contentMD5)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	args := m.Called(ctx, bucket, key)
	var body io.ReadCloser
	if b := args.Get(0); b != nil {
		body = b.(io.ReadCloser)
	}
	return body, args.Get(1).(int64), args.Error(2)
}

func (m *MockBackend) MakeBucket(ctx context.Context, bucket string) error {
	args := m.Called(ctx, bucket)
	return args.Error(0)
}
