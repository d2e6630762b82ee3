package conversation

import (
	"context"
	"sync"
	"time"
)

// MemStore is the in-process conversation store for local/dev use and
// tests.
type MemStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	messages      map[string][]Message
}

func NewMemStore() *MemStore {
	return &MemStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

func (s *MemStore) CreateConversation(_ context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *MemStore) GetConversation(_ context.Context, ownerID, conversationID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.OwnerID != ownerID {
		return Conversation{}, ErrStoreNotFound
	}
	return conv, nil
}

func (s *MemStore) TouchConversation(_ context.Context, ownerID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.OwnerID != ownerID {
		return ErrStoreNotFound
	}
	conv.UpdatedAt = time.Now().UTC()
	s.conversations[conversationID] = conv
	return nil
}

func (s *MemStore) AppendMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemStore) Messages(_ context.Context, ownerID, conversationID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	out := make([]Message, 0, len(all))
	for _, msg := range all {
		if msg.OwnerID != ownerID {
			continue
		}
		out = append(out, msg)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }
