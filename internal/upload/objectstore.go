package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"cloud.google.com/go/storage"
)

// ObjectStore is the artifact destination: put bytes under a key, check
// a key exists. The production implementation is a GCS bucket; tests use
// MemoryStore.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// GCSStore writes artifacts into one Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a client against the named bucket using ambient
// credentials (GOOGLE_APPLICATION_CREDENTIALS or metadata server).
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, contentType string, r io.Reader) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit object %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

// PutFile streams a local file into the store.
func PutFile(ctx context.Context, store ObjectStore, key, contentType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return store.Put(ctx, key, contentType, f)
}

// MemoryStore is an in-memory ObjectStore for tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	// FailPut makes Put fail for matching keys, for failure-path tests.
	FailPut func(key string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: map[string][]byte{},
		types:   map[string]string{},
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, contentType string, r io.Reader) error {
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Close() error { return nil }

// Object returns a stored object's bytes, or nil.
func (m *MemoryStore) Object(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

// Keys returns every stored key.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
