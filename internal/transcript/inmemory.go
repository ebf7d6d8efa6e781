package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/phonebridge/internal/callconfig"
)

// InMemorySink is a simple in-process conversation log for local/dev use.
type InMemorySink struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{entries: make(map[string][]Entry)}
}

func (s *InMemorySink) Append(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	key := callconfig.NormalizePhone(entry.PhoneNumber)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append(s.entries[key], entry)
	return nil
}

func (s *InMemorySink) Clear(_ context.Context, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, callconfig.NormalizePhone(phoneNumber))
	return nil
}

func (s *InMemorySink) Recent(_ context.Context, phoneNumber string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[callconfig.NormalizePhone(phoneNumber)]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Entry, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemorySink) Mode() string { return "in-memory" }

func (s *InMemorySink) Close() error { return nil }
