package pending

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu         sync.Mutex
	candidates map[string]*Candidate
	order      []string
}

// NewMemoryStore creates an empty in-memory pool.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{candidates: make(map[string]*Candidate)}
}

func (s *MemoryStore) Put(_ context.Context, c Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.candidates[c.DepositID]; ok && existing.Status == StatusPending {
		return ErrDuplicate
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if _, ok := s.candidates[c.DepositID]; !ok {
		s.order = append(s.order, c.DepositID)
	}
	s.candidates[c.DepositID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, depositID string) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[depositID]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	return *c, nil
}

func (s *MemoryStore) Pending(_ context.Context) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Candidate, 0, len(s.candidates))
	for _, id := range s.order {
		if c, ok := s.candidates[id]; ok && c.Status == StatusPending {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, depositID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[depositID]
	if !ok || c.Status != StatusPending {
		return false, nil
	}
	delete(s.candidates, depositID)
	return true, nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, depositID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[depositID]
	if !ok {
		return ErrNotFound
	}
	c.Status = StatusVerificationFailed
	c.FailureNote = note
	return nil
}

func (s *MemoryStore) ExpireStale(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for _, c := range s.candidates {
		if c.Status == StatusPending && c.Expired(now) {
			c.Status = StatusExpired
			expired = append(expired, c.DepositID)
		}
	}
	return expired, nil
}
