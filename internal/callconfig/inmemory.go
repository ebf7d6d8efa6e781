package callconfig

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps blobs in process memory for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]Blob)}
}

func (s *InMemoryStore) Get(_ context.Context, phoneNumber string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[NormalizePhone(phoneNumber)]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, phoneNumber string, blob Blob) error {
	blob = blob.Clone()
	if blob.UpdatedAt.IsZero() {
		blob.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[NormalizePhone(phoneNumber)] = blob
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, NormalizePhone(phoneNumber))
	return nil
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
