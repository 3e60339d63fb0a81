package store

import (
	"context"
	"fmt"
	"sync"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	"jitaccess/pkg/platform/sentinel"
)

// InMemory keeps requests in a map with a side slice for insertion order.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.AccessRequest
	order    []id.RequestID
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.RequestID]*models.AccessRequest)}
}

func (s *InMemory) Insert(_ context.Context, req *models.AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("request %s: %w", req.ID, sentinel.ErrConflict)
	}
	s.requests[req.ID] = req.Clone()
	s.order = append(s.order, req.ID)
	return nil
}

func (s *InMemory) Get(_ context.Context, reqID id.RequestID) (*models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[reqID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", reqID, sentinel.ErrNotFound)
	}
	return req.Clone(), nil
}

func (s *InMemory) CompareAndTransition(ctx context.Context, reqID id.RequestID, expected models.Status, mutate func(*models.AccessRequest)) (*models.AccessRequest, error) {
	return s.Execute(ctx, reqID, statusGuard(expected), mutate)
}

// Execute holds the write lock across validate and mutate. The mutation runs
// on a copy that only replaces the stored record when everything succeeded.
func (s *InMemory) Execute(_ context.Context, reqID id.RequestID, validate func(*models.AccessRequest) error, mutate func(*models.AccessRequest)) (*models.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[reqID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", reqID, sentinel.ErrNotFound)
	}
	if validate != nil {
		if err := validate(current); err != nil {
			return nil, err
		}
	}
	next := current.Clone()
	mutate(next)
	s.requests[reqID] = next
	return next.Clone(), nil
}

func (s *InMemory) List(_ context.Context, filter models.Filter) ([]*models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AccessRequest, 0, len(s.order))
	for _, reqID := range s.order {
		req := s.requests[reqID]
		if filter.Matches(req) {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}
