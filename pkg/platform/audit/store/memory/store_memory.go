package memory

import (
	"context"
	"sync"

	audit "jitaccess/pkg/platform/audit"
)

// InMemoryStore keeps audit events in process, in append order. Used in dev,
// tests, and by the server when no Kafka brokers are configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	events  []audit.Event
	limit   int
	evicted int
}

type Option func(*InMemoryStore)

// WithLimit keeps only the newest n events. n <= 0 means unbounded.
func WithLimit(n int) Option {
	return func(s *InMemoryStore) {
		s.limit = n
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.limit > 0 && len(s.events) > s.limit {
		over := len(s.events) - s.limit
		s.evicted += over
		// Copy down so the backing array does not grow forever.
		s.events = append(s.events[:0], s.events[over:]...)
	}
	return nil
}

// Evicted reports how many events were dropped to honour the limit.
func (s *InMemoryStore) Evicted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Emit lets the store double as a synchronous publisher.
func (s *InMemoryStore) Emit(ctx context.Context, event audit.Event) error {
	return s.Append(ctx, event)
}

// ListByAccessRequest returns the trail of a single access request.
func (s *InMemoryStore) ListByAccessRequest(_ context.Context, accessRequestID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.AccessRequestID == accessRequestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAll returns every recorded event.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...), nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.evicted = 0
}
