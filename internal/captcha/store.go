package captcha

import (
	"context"
	"sync"
	"time"
)

// Challenge is an outstanding puzzle. TargetX never leaves the server.
type Challenge struct {
	ID        string
	TargetX   int
	TargetY   int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ChallengeStore holds outstanding challenges.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, c Challenge) error
	// TakeChallenge removes id and returns it if it was live at now.
	// Expired entries are removed too but reported as absent.
	TakeChallenge(ctx context.Context, id string, now time.Time) (Challenge, bool, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error)
}

// TicketStore holds verified tickets until they are redeemed or expire.
type TicketStore interface {
	PutTicket(ctx context.Context, ticket string, expiresAt time.Time) error
	// HasTicket reports whether ticket is live at now without consuming it.
	HasTicket(ctx context.Context, ticket string, now time.Time) (bool, error)
	// TakeTicket removes ticket and reports whether it was live at now.
	TakeTicket(ctx context.Context, ticket string, now time.Time) (bool, error)
	DeleteExpiredTickets(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps challenges and tickets in process memory. Every method
// holds the lock for its whole read-modify-write.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	tickets    map[string]time.Time
}

var (
	_ ChallengeStore = (*MemoryStore)(nil)
	_ TicketStore    = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]Challenge),
		tickets:    make(map[string]time.Time),
	}
}

func (m *MemoryStore) PutChallenge(_ context.Context, c Challenge) error {
	m.mu.Lock()
	m.challenges[c.ID] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) TakeChallenge(_ context.Context, id string, now time.Time) (Challenge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return Challenge{}, false, nil
	}
	delete(m.challenges, id)
	if !now.Before(c.ExpiresAt) {
		return Challenge{}, false, nil
	}
	return c, true, nil
}

func (m *MemoryStore) DeleteExpiredChallenges(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, c := range m.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(m.challenges, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PutTicket(_ context.Context, ticket string, expiresAt time.Time) error {
	m.mu.Lock()
	m.tickets[ticket] = expiresAt
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) HasTicket(_ context.Context, ticket string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.tickets[ticket]
	if !ok {
		return false, nil
	}
	if !now.Before(exp) {
		delete(m.tickets, ticket)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) TakeTicket(_ context.Context, ticket string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.tickets[ticket]
	if !ok {
		return false, nil
	}
	delete(m.tickets, ticket)
	return now.Before(exp), nil
}

func (m *MemoryStore) DeleteExpiredTickets(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for t, exp := range m.tickets {
		if !now.Before(exp) {
			delete(m.tickets, t)
			n++
		}
	}
	return n, nil
}

// Len reports outstanding challenges and tickets.
func (m *MemoryStore) Len() (challenges, tickets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.challenges), len(m.tickets)
}
