package friends

import (
	"context"
	"sort"
	"sync"
	"time"

	"chathub/models"
)

// MemoryStore is a mutex guarded Store for tests and single-process runs.
type MemoryStore struct {
	mu       sync.Mutex
	requests []*models.FriendRequest
	edges    map[string]map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{edges: make(map[string]map[string]time.Time)}
}

func (s *MemoryStore) CreateRequest(_ context.Context, req *models.FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[req.FromUserID][req.ToUserID]; ok {
		return models.ErrAlreadyFriends
	}
	if s.pendingLocked(req.ToUserID, req.FromUserID) != nil {
		return models.ErrAlreadyPending
	}
	for _, r := range s.requests {
		if r.FromUserID == req.FromUserID && r.ToUserID == req.ToUserID && r.Status != models.RequestRejected {
			return models.ErrAlreadyPending
		}
	}
	cp := *req
	s.requests = append(s.requests, &cp)
	return nil
}

func (s *MemoryStore) pendingLocked(fromID, toID string) *models.FriendRequest {
	for _, r := range s.requests {
		if r.FromUserID == fromID && r.ToUserID == toID && r.Status == models.RequestPending {
			return r
		}
	}
	return nil
}

func (s *MemoryStore) Resolve(_ context.Context, fromID, toID string, status models.RequestStatus, at time.Time) (*models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.pendingLocked(fromID, toID)
	if r == nil {
		return nil, models.ErrRequestNotFound
	}
	r.Status = status
	r.HandledAt = at
	if status == models.RequestAccepted {
		s.addEdgeLocked(fromID, toID, at)
		s.addEdgeLocked(toID, fromID, at)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) addEdgeLocked(a, b string, at time.Time) {
	m, ok := s.edges[a]
	if !ok {
		m = make(map[string]time.Time)
		s.edges[a] = m
	}
	if _, exists := m[b]; !exists {
		m[b] = at
	}
}

func (s *MemoryStore) AreFriends(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.edges[a][b]
	return ok, nil
}

func (s *MemoryStore) Friends(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.edges[userID]))
	for id := range s.edges[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) PendingFor(_ context.Context, userID string) ([]models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FriendRequest
	for _, r := range s.requests {
		if r.ToUserID == userID && r.Status == models.RequestPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

// EdgeCount returns the number of directed friendship edges.
func (s *MemoryStore) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.edges {
		n += len(m)
	}
	return n
}

// Requests returns a copy of every stored request, resolved ones included.
func (s *MemoryStore) Requests() []models.FriendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FriendRequest, len(s.requests))
	for i, r := range s.requests {
		out[i] = *r
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
