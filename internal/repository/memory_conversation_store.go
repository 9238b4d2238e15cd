package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// MemoryConversationStore keeps deep copies of saved conversations. It backs
// tests and single-node runs without Postgres.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	items map[string]*domain.Conversation
	// FailSave, when set, is returned by Save for the matching conversation id.
	FailSave func(id string) error
}

// NewMemoryConversationStore returns an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{items: make(map[string]*domain.Conversation)}
}

func (s *MemoryConversationStore) Save(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		if err := s.FailSave(conv.ID); err != nil {
			return err
		}
	}
	s.items[conv.ID] = conv.Clone()
	return nil
}

func (s *MemoryConversationStore) LoadAll(_ context.Context) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the stored copy of id, for assertions.
func (s *MemoryConversationStore) Get(id string) (*domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}
