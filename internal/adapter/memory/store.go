// Package memory provides in-process implementations of the pipeline's
// storage collaborators. Ledger backs runs without LEDGER_DSN; ObjectStore is
// a test fixture.
package memory

import (
	"context"
	"sort"
	"sync"
)

// ObjectStore keeps objects in a map. Put replaces any existing object.
type ObjectStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
	puts    int
}

// NewObjectStore creates an empty store whose URIs use the mem:// scheme.
func NewObjectStore(bucket string) *ObjectStore {
	return &ObjectStore{bucket: bucket, objects: map[string][]byte{}}
}

func (s *ObjectStore) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = cp
	s.puts++
	return nil
}

func (s *ObjectStore) URI(path string) string {
	return "mem://" + s.bucket + "/" + path
}

// Get returns a copy of the object at path.
func (s *ObjectStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true
}

// Keys lists stored object paths in lexical order.
func (s *ObjectStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts reports how many Put calls succeeded.
func (s *ObjectStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
