package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// BlobStore keeps uploaded objects in memory and serves mem:// URLs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewBlobStore constructs a BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// PutObject stores the object bytes and returns its URL.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return "mem://" + path, nil
}

// GetObject returns a stored object's bytes and content type.
func (s *BlobStore) GetObject(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[path], true
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
