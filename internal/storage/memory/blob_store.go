package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore keeps snapshots in process memory. It backs the memory
// provider and worker tests.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// PutObject stores data under path and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read snapshot body: %w", err)
	}
	s.mu.Lock()
	s.objects[path] = data
	s.mu.Unlock()
	return "mem://" + path, nil
}

// GetObject returns a stored snapshot, or false when absent.
func (s *BlobStore) GetObject(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}
