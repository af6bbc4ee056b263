package repo

import (
	"context"
	"sync"

	"signoff/internal/domain"
)

// MemoryStore keeps requests in process. Values are cloned on the way in and
// out so callers never share chain slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]domain.Request
	order    []string
	events   []domain.Event
	nextEvt  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: map[string]domain.Request{}}
}

func (s *MemoryStore) Create(_ context.Context, req domain.Request, evts ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return domain.ConflictError{Kind: "request", ID: req.ID}
	}
	s.requests[req.ID] = req.Clone()
	s.order = append(s.order, req.ID)
	s.appendLocked(evts)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.Request{}, notFound(id)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Request, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.requests[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, req *domain.Request, evts ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[req.ID]
	if !ok {
		return notFound(req.ID)
	}
	if cur.Version != req.Version {
		return domain.StaleStateError{RequestID: req.ID}
	}
	next := req.Clone()
	next.Version++
	s.requests[req.ID] = next
	req.Version = next.Version
	s.appendLocked(evts)
	return nil
}

func (s *MemoryStore) AppendEvents(_ context.Context, evts ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(evts)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, requestID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) appendLocked(evts []domain.Event) {
	for _, e := range evts {
		s.nextEvt++
		e.ID = s.nextEvt
		e.TS = e.TS.UTC()
		s.events = append(s.events, e)
	}
}
