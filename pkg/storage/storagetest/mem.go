package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"io"
	"sync"

	"github.com/zhengshuai-xiao/RelayS/internal"
)

// MemBackend keeps objects in memory, verifies Content-MD5 like S3 does and
// tracks how many object bodies are open at once.
type MemBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	open    int
	maxOpen int
	gets    []string

	// GetHook, when set, runs before every Get and may fail it.
	GetHook func(bucket, key string) error
}

func NewMemBackend() *MemBackend {
	return &MemBackend{objects: make(map[string][]byte)}
}

func (b *MemBackend) Name() string { return "mem" }

func (b *MemBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentMD5 string) (int64, error) {
	h := md5.New()
	var buf bytes.Buffer
	n, err := io.Copy(io.MultiWriter(&buf, h), r)
	if err != nil {
		return n, internal.TransportError("storage.put", err)
	}
	if err := ctx.Err(); err != nil {
		return n, internal.TransportError("storage.put", err)
	}
	if size >= 0 && n != size {
		return n, internal.TransportError("storage.put", io.ErrUnexpectedEOF)
	}
	if contentMD5 != "" && base64.StdEncoding.EncodeToString(h.Sum(nil)) != contentMD5 {
		return n, internal.IntegrityError("storage.put", "The Content-MD5 you specified did not match what we received.", nil)
	}
	b.mu.Lock()
	b.objects[bucket+"/"+key] = buf.Bytes()
	b.mu.Unlock()
	return n, nil
}

// Add stores data without any verification.
func (b *MemBackend) Add(bucket, key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+key] = data
}

// Delete drops an object, e.g. to simulate it vanishing mid-bundle.
func (b *MemBackend) Delete(bucket, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, bucket+"/"+key)
}

func (b *MemBackend) Object(bucket, key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[bucket+"/"+key]
	return data, ok
}

func (b *MemBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	if b.GetHook != nil {
		if err := b.GetHook(bucket, key); err != nil {
			return nil, 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, internal.TransportError("storage.get", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[bucket+"/"+key]
	if !ok {
		return nil, 0, internal.NotFoundError("storage.get", "object %s/%s not found", bucket, key)
	}
	b.gets = append(b.gets, key)
	b.open++
	if b.open > b.maxOpen {
		b.maxOpen = b.open
	}
	return &memBody{Reader: bytes.NewReader(data), b: b}, int64(len(data)), nil
}

func (b *MemBackend) MakeBucket(ctx context.Context, bucket string) error { return nil }

// MaxOpen is the highest number of bodies that were open at the same time.
func (b *MemBackend) MaxOpen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxOpen
}

// Open is the number of bodies not closed yet.
func (b *MemBackend) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Gets lists the keys fetched, in order.
func (b *MemBackend) Gets() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.gets...)
}

type memBody struct {
	*bytes.Reader
	b    *MemBackend
	once sync.Once
}

func (m *memBody) Close() error {
	m.once.Do(func() {
		m.b.mu.Lock()
		m.b.open--
		m.b.mu.Unlock()
	})
	return nil
}
