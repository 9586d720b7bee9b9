package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vetai-labs/vetai/internal/facts"
)

// InMemoryStore is a simple in-process document store for local/dev use and
// tests. Watches are fed directly from the write path.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]map[string]*Conversation
	global        map[string]facts.FactSet

	convWatchers   map[string][]chan Conversation
	globalWatchers map[string][]chan facts.FactSet
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations:  make(map[string]map[string]*Conversation),
		global:         make(map[string]facts.FactSet),
		convWatchers:   make(map[string][]chan Conversation),
		globalWatchers: make(map[string][]chan facts.FactSet),
	}
}

func convKey(userID, convID string) string { return userID + "/" + convID }

func (s *InMemoryStore) CreateConversation(_ context.Context, userID string, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations[userID] == nil {
		s.conversations[userID] = make(map[string]*Conversation)
	}
	if conv.Title == "" {
		conv.Title = DefaultTitle
	}
	if conv.Memory == nil {
		conv.Memory = facts.FactSet{}
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	c := conv
	s.conversations[userID][conv.ID] = &c
	s.notifyConversation(userID, c)
	return nil
}

func (s *InMemoryStore) Conversation(_ context.Context, userID, convID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[userID][convID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return cloneConversation(*c), nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations[userID]))
	for _, c := range s.conversations[userID] {
		out = append(out, cloneConversation(*c))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) PatchConversation(_ context.Context, userID, convID string, patch ConversationPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations[userID] == nil {
		s.conversations[userID] = make(map[string]*Conversation)
	}
	c, ok := s.conversations[userID][convID]
	if !ok {
		c = &Conversation{
			ID:        convID,
			Title:     DefaultTitle,
			Memory:    facts.FactSet{},
			CreatedAt: time.Now().UTC(),
		}
		s.conversations[userID][convID] = c
	}

	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Messages != nil {
		c.Messages = append([]Message(nil), patch.Messages...)
	}
	if len(patch.Memory) > 0 {
		c.Memory = facts.Merge(c.Memory, patch.Memory)
	}
	if patch.LastMessage != nil {
		c.LastMessage = *patch.LastMessage
	}
	if patch.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	} else {
		c.UpdatedAt = patch.UpdatedAt
	}

	s.notifyConversation(userID, *c)
	return nil
}

func (s *InMemoryStore) GlobalMemory(_ context.Context, userID string) (facts.FactSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.global[userID]
	if !ok {
		return facts.FactSet{}, nil
	}
	return facts.Merge(facts.FactSet{}, m), nil
}

func (s *InMemoryStore) MergeGlobalMemory(_ context.Context, userID string, incoming facts.FactSet) error {
	if len(incoming) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global[userID] = facts.Merge(s.global[userID], incoming)
	merged := s.global[userID]
	for _, ch := range s.globalWatchers[userID] {
		select {
		case ch <- facts.Merge(facts.FactSet{}, merged):
		default:
		}
	}
	return nil
}

func (s *InMemoryStore) WatchConversation(ctx context.Context, userID, convID string) (<-chan Conversation, error) {
	ch := make(chan Conversation, 8)
	key := convKey(userID, convID)
	s.mu.Lock()
	s.convWatchers[key] = append(s.convWatchers[key], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		watchers := s.convWatchers[key]
		for i, w := range watchers {
			if w == ch {
				s.convWatchers[key] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *InMemoryStore) WatchGlobalMemory(ctx context.Context, userID string) (<-chan facts.FactSet, error) {
	ch := make(chan facts.FactSet, 8)
	s.mu.Lock()
	s.globalWatchers[userID] = append(s.globalWatchers[userID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		watchers := s.globalWatchers[userID]
		for i, w := range watchers {
			if w == ch {
				s.globalWatchers[userID] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *InMemoryStore) Close() error { return nil }

// notifyConversation must run with mu held.
func (s *InMemoryStore) notifyConversation(userID string, c Conversation) {
	for _, ch := range s.convWatchers[convKey(userID, c.ID)] {
		select {
		case ch <- cloneConversation(c):
		default:
			// Slow watcher: drop this snapshot, a later one supersedes it.
		}
	}
}

func cloneConversation(c Conversation) Conversation {
	c.Messages = append([]Message(nil), c.Messages...)
	c.Memory = facts.Merge(facts.FactSet{}, c.Memory)
	return c
}
