package auth

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps sessions in process memory. One mutex covers both
// indexes so eviction and installation happen together.
type MemorySessionStore struct {
	mu     sync.Mutex
	tokens map[string]Session
	users  map[int64]string
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		tokens: make(map[string]Session),
		users:  make(map[int64]string),
	}
}

func (m *MemorySessionStore) Replace(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.users[s.UserID]; ok {
		delete(m.tokens, old)
	}
	m.tokens[s.Token] = s
	m.users[s.UserID] = s.Token
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, token string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tokens[token]
	return s, ok, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(token)
	return nil
}

func (m *MemorySessionStore) DeleteUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.users[userID]; ok {
		m.deleteLocked(token)
	}
	return nil
}

func (m *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, s := range m.tokens {
		if s.Expired(now) {
			m.deleteLocked(token)
			n++
		}
	}
	return n, nil
}

func (m *MemorySessionStore) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens), nil
}

// Close drops every session.
func (m *MemorySessionStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]Session)
	m.users = make(map[int64]string)
	return nil
}

// deleteLocked removes token and clears the user index only when it still
// points at token.
func (m *MemorySessionStore) deleteLocked(token string) {
	s, ok := m.tokens[token]
	if !ok {
		return
	}
	delete(m.tokens, token)
	if m.users[s.UserID] == token {
		delete(m.users, s.UserID)
	}
}
