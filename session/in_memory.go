package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/core"
)

type conversation struct {
	messages []core.Message
	created  time.Time
	updated  time.Time
}

// InMemoryStore is a volatile ConversationStore storing conversations in a
// process local map. It is safe for concurrent access. Messages are cloned on
// the way in and out to prevent external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	now           func() time.Time
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*conversation),
		now:           time.Now,
	}
}

// StartConversation creates an empty conversation and returns its id.
func (s *InMemoryStore) StartConversation(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now().UTC()
	s.conversations[id] = &conversation{created: now, updated: now}
	return id, nil
}

// AppendMessages implements core.ConversationStore.
func (s *InMemoryStore) AppendMessages(_ context.Context, id string, msgs []core.Message, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return core.ErrConversationNotFound
	}
	if replace {
		c.messages = nil
	}
	c.messages = append(c.messages, core.CloneMessages(msgs)...)
	c.updated = s.now().UTC()
	return nil
}

// History implements core.ConversationStore.
func (s *InMemoryStore) History(_ context.Context, id string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	return core.CloneMessages(c.messages), nil
}

// List returns all conversations, most recently updated first.
func (s *InMemoryStore) List(_ context.Context) ([]core.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.ConversationSummary, 0, len(s.conversations))
	for id, c := range s.conversations {
		out = append(out, core.ConversationSummary{
			ID:           id,
			Title:        Title(c.messages),
			MessageCount: len(c.messages),
			Created:      c.created,
			Updated:      c.updated,
		})
	}
	SortSummaries(out)
	return out, nil
}

// Delete implements core.ConversationStore.
func (s *InMemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false, nil
	}
	delete(s.conversations, id)
	return true, nil
}

// Title derives a conversation title from its first plain user message.
func Title(msgs []core.Message) string {
	for _, m := range msgs {
		if m.Role != core.RoleUser || m.Kind() != "" {
			continue
		}
		if text := m.Text(); text != "" {
			return core.TitleFromText(text, 60)
		}
	}
	return "Untitled"
}

// SortSummaries orders summaries by last update, newest first.
func SortSummaries(s []core.ConversationSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].Updated.Equal(s[j].Updated) {
			return s[i].Updated.After(s[j].Updated)
		}
		return s[i].ID < s[j].ID
	})
}

var _ core.ConversationStore = (*InMemoryStore)(nil)
