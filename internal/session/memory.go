package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the -dev and test backend. Expiry is checked lazily on
// lookup; there is no sweeper.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
}

type memorySession struct {
	userID    string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memorySession)}
}

func (s *MemoryStore) Set(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = memorySession{userID: userID, expiresAt: time.Now().Add(TTL)}
	return nil
}

func (s *MemoryStore) UserID(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.sessions, sessionID)
		return "", ErrNotFound
	}
	sess.expiresAt = time.Now().Add(TTL)
	s.sessions[sessionID] = sess
	return sess.userID, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
