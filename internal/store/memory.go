package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/spec-kit/courier-track/internal/domain"
)

// MemoryStore is an in-process RecordStore used in tests and local runs
// without Redis. Change notifications are delivered synchronously.
type MemoryStore struct {
	mu          sync.RWMutex
	agents      map[string]domain.Agent
	subscribers []func(agentID string)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]domain.Agent)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := agent
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context) (map[string]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Agent, len(s.agents))
	for id, agent := range s.agents {
		out[id] = agent
	}
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *MemoryStore) Write(ctx context.Context, agent *domain.Agent) error {
	s.mu.Lock()
	s.agents[agent.ID] = *agent
	s.mu.Unlock()
	s.notify(agent.ID)
	return nil
}

func (s *MemoryStore) Patch(ctx context.Context, id string, patch Patch) error {
	s.mu.Lock()
	agent, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	applyPatch(&agent, patch)
	s.agents[id] = agent
	s.mu.Unlock()
	s.notify(id)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.agents, id)
	s.mu.Unlock()
	s.notify(id)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, onChange func(agentID string), onErr func(error)) (Subscription, error) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, onChange)
	s.mu.Unlock()
	return nopSubscription{}, nil
}

func (s *MemoryStore) notify(id string) {
	s.mu.RLock()
	subs := append([]func(string){}, s.subscribers...)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(id)
	}
}

type nopSubscription struct{}

func (nopSubscription) Close() error { return nil }
