package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultSessionTTL = 7 * 24 * time.Hour

// SessionAuthority issues, validates and revokes bearer sessions, keeping at
// most one live session per user.
type SessionAuthority struct {
	store  SessionStore
	minter TokenMinter
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// SessionOption configures SessionAuthority.
type SessionOption func(*SessionAuthority) error

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(a *SessionAuthority) error {
		if ttl < 0 {
			return fmt.Errorf("%w: session ttl must be positive", ErrValidation)
		}
		if ttl > 0 {
			a.ttl = ttl
		}
		return nil
	}
}

// WithTokenMinter selects the token encoding. Opaque tokens are the default.
func WithTokenMinter(m TokenMinter) SessionOption {
	return func(a *SessionAuthority) error {
		if m != nil {
			a.minter = m
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) SessionOption {
	return func(a *SessionAuthority) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

// WithSessionLogger attaches a logger.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(a *SessionAuthority) error {
		if l != nil {
			a.log = l
		}
		return nil
	}
}

// NewSessionAuthority constructs a SessionAuthority over store.
func NewSessionAuthority(store SessionStore, opts ...SessionOption) (*SessionAuthority, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	a := &SessionAuthority{
		store:  store,
		minter: OpaqueTokens{},
		ttl:    defaultSessionTTL,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// TTL returns the configured session lifetime.
func (a *SessionAuthority) TTL() time.Duration { return a.ttl }

// Issue creates a session for the user, evicting the previous one.
func (a *SessionAuthority) Issue(ctx context.Context, userID int64, username, roleCode string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Session{}, fmt.Errorf("%w: username is required", ErrValidation)
	}
	now := a.now().UTC()
	s := Session{
		UserID:    userID,
		Username:  username,
		RoleCode:  roleCode,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	token, err := a.minter.Mint(s)
	if err != nil {
		return Session{}, err
	}
	s.Token = token
	if err := a.store.Replace(ctx, s); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	a.log.Debug("session issued", zap.Int64("user_id", userID), zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// Validate resolves token to a live session. ok is false for unknown,
// malformed or expired tokens; expired sessions are evicted here.
func (a *SessionAuthority) Validate(ctx context.Context, token string) (Session, bool, error) {
	token = strings.TrimSpace(token)
	if err := a.minter.Check(token); err != nil {
		return Session{}, false, nil
	}
	s, ok, err := a.store.Get(ctx, token)
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Session{}, false, nil
	}
	if s.Expired(a.now()) {
		if err := a.store.Delete(ctx, token); err != nil {
			return Session{}, false, fmt.Errorf("evict session: %w", err)
		}
		a.log.Debug("session expired", zap.Int64("user_id", s.UserID))
		return Session{}, false, nil
	}
	return s, true, nil
}

// Revoke removes token. Unknown tokens are ignored.
func (a *SessionAuthority) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return a.store.Delete(ctx, token)
}

// RevokeByUser removes whatever session userID holds.
func (a *SessionAuthority) RevokeByUser(ctx context.Context, userID int64) error {
	return a.store.DeleteUser(ctx, userID)
}

// Sweep drops expired sessions and returns how many were removed.
func (a *SessionAuthority) Sweep(ctx context.Context) (int, error) {
	return a.store.DeleteExpired(ctx, a.now())
}

// Active reports the number of stored sessions.
func (a *SessionAuthority) Active(ctx context.Context) (int, error) {
	return a.store.Len(ctx)
}
