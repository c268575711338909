package db

import (
	"context"
	"sync"
)

// MemoryDocumentStore keeps documents in process memory. Useful for tests and
// for throwaway sessions where nothing has to survive a restart.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[Key][]byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[Key][]byte)}
}

func (s *MemoryDocumentStore) ReadDocument(ctx context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.docs[key]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

func (s *MemoryDocumentStore) WriteDocument(ctx context.Context, key Key, body []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	s.mu.Lock()
	s.docs[key] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocumentStore) DeleteDocument(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored documents.
func (s *MemoryDocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryDocumentStore) Close() error {
	return nil
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)
