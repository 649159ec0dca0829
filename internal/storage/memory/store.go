// Package memory is the in-memory Store backend used by -dev mode and
// tests. All methods hand out clones so callers never alias stored state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type Store struct {
	mu    sync.RWMutex
	users map[string]*model.User
	chats map[string]*model.Chat
	msgs  map[string]*model.Message
	// order preserves message creation order per chat.
	order map[string][]string
}

func New() *Store {
	return &Store{
		users: make(map[string]*model.User),
		chats: make(map[string]*model.Chat),
		msgs:  make(map[string]*model.Message),
		order: make(map[string][]string),
	}
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return storage.ErrExists
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeenAt = at
	return nil
}

func (s *Store) TouchActivity(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.LastActivityAt = at
	return nil
}

func cloneChat(c *model.Chat) *model.Chat {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.PinnedIDs = append([]string(nil), c.PinnedIDs...)
	return &cp
}

func (s *Store) CreateChat(ctx context.Context, c *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ID]; ok {
		return storage.ErrExists
	}
	for _, existing := range s.chats {
		if samePair(existing.Participants, c.Participants) {
			return storage.ErrExists
		}
	}
	s.chats[c.ID] = cloneChat(c)
	return nil
}

func samePair(a, b []string) bool {
	return len(a) == 2 && len(b) == 2 && a[0] == b[0] && a[1] == b[1]
}

func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneChat(c), nil
}

func (s *Store) FindChatByParticipants(ctx context.Context, userA, userB string) (*model.Chat, error) {
	pair := model.SortedPair(userA, userB)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chats {
		if samePair(c.Participants, pair) {
			return cloneChat(c), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListChatsByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Chat, 0, 8)
	for _, c := range s.chats {
		for _, p := range c.Participants {
			if p == userID {
				out = append(out, *cloneChat(c))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) TouchChat(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.UpdatedAt = at
	return nil
}

func (s *Store) SetPinned(ctx context.Context, chatID string, pinnedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	c.PinnedIDs = append([]string(nil), pinnedIDs...)
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[m.ID]; ok {
		return storage.ErrExists
	}
	cp := m.Clone()
	cp.Sender = nil
	cp.ReplyTo = nil
	s.msgs[m.ID] = cp
	s.order[m.ChatID] = append(s.order[m.ChatID], m.ID)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.withSender(m), nil
}

// withSender clones m and attaches the sender projection. Callers hold s.mu.
func (s *Store) withSender(m *model.Message) *model.Message {
	cp := m.Clone()
	if u, ok := s.users[m.SenderID]; ok {
		pub := u.ToPublic()
		cp.Sender = &pub
	}
	return cp
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[chatID]
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.msgs[id]; ok {
			out = append(out, *s.withSender(m))
		}
	}
	return out, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[m.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := m.Clone()
	cp.Sender = nil
	cp.ReplyTo = nil
	s.msgs[m.ID] = cp
	return nil
}
