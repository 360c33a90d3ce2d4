package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TicketConsumer redeems a one-time captcha ticket.
type TicketConsumer interface {
	ConsumeTicket(ctx context.Context, ticket string) (bool, error)
}

// Gateway is the single entry point for login, logout and whoami.
type Gateway struct {
	credentials    CredentialStore
	sessions       *SessionAuthority
	passwords      PasswordScheme
	tickets        TicketConsumer
	requireCaptcha bool
	now            func() time.Time
	log            *zap.Logger
}

// GatewayOption configures Gateway.
type GatewayOption func(*Gateway)

// WithTickets enables captcha ticket redemption. When required is true a
// login without a ticket is rejected.
func WithTickets(t TicketConsumer, required bool) GatewayOption {
	return func(g *Gateway) {
		g.tickets = t
		g.requireCaptcha = required && t != nil
	}
}

// WithPasswordScheme overrides the default legacy salt.
func WithPasswordScheme(p PasswordScheme) GatewayOption {
	return func(g *Gateway) { g.passwords = p }
}

// WithGatewayLogger attaches a logger.
func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithGatewayClock overrides time source (useful for tests).
func WithGatewayClock(fn func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGateway wires credentials and sessions together.
func NewGateway(credentials CredentialStore, sessions *SessionAuthority, opts ...GatewayOption) (*Gateway, error) {
	if credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if sessions == nil {
		return nil, errors.New("session authority is required")
	}
	g := &Gateway{
		credentials: credentials,
		sessions:    sessions,
		passwords:   NewPasswordScheme(""),
		now:         time.Now,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Login checks the optional captcha ticket and the credentials, then issues
// a session that replaces any earlier one for the user.
func (g *Gateway) Login(ctx context.Context, username, password, captchaTicket string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return LoginResult{}, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if strings.TrimSpace(password) == "" {
		return LoginResult{}, fmt.Errorf("%w: password is required", ErrValidation)
	}
	if err := g.redeemTicket(ctx, strings.TrimSpace(captchaTicket)); err != nil {
		return LoginResult{}, err
	}

	id, err := g.credentials.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		g.log.Warn("login rejected: unknown user", zap.String("username", username))
		return LoginResult{}, ErrAuthFailed
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load identity: %w", err)
	}
	if err := g.passwords.Verify(id.PasswordHash, password); err != nil {
		g.log.Warn("login rejected: wrong password", zap.String("username", username))
		return LoginResult{}, ErrAuthFailed
	}

	s, err := g.sessions.Issue(ctx, id.ID, id.Username, id.RoleCode)
	if err != nil {
		return LoginResult{}, err
	}
	g.log.Info("login succeeded", zap.String("username", id.Username), zap.Int64("user_id", id.ID))
	return LoginResult{
		Token:     s.Token,
		TokenType: TokenTypeBearer,
		ExpiresIn: int64(g.sessions.TTL() / time.Second),
		UserID:    s.UserID,
		Username:  s.Username,
		Role:      s.RoleCode,
	}, nil
}

// Logout revokes the session behind header if there is one. The caller is
// told it succeeded either way; only storage failures are returned.
func (g *Gateway) Logout(ctx context.Context, header string) error {
	token := StripBearer(header)
	if token == "" {
		return nil
	}
	if err := g.sessions.Revoke(ctx, token); err != nil {
		g.log.Error("logout revoke failed", zap.Error(err))
		return err
	}
	return nil
}

// WhoAmI resolves the session behind header.
func (g *Gateway) WhoAmI(ctx context.Context, header string) (LoginResult, error) {
	token := StripBearer(header)
	if token == "" {
		return LoginResult{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	s, ok, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, fmt.Errorf("%w: session expired or revoked", ErrUnauthenticated)
	}
	left := s.ExpiresAt.Sub(g.now())
	if left < 0 {
		left = 0
	}
	return LoginResult{
		Token:     s.Token,
		TokenType: TokenTypeBearer,
		ExpiresIn: int64(left / time.Second),
		UserID:    s.UserID,
		Username:  s.Username,
		Role:      s.RoleCode,
	}, nil
}

func (g *Gateway) redeemTicket(ctx context.Context, ticket string) error {
	if ticket == "" {
		if g.requireCaptcha {
			return fmt.Errorf("%w: captcha verification required", ErrTicketInvalid)
		}
		return nil
	}
	if g.tickets == nil {
		return fmt.Errorf("%w: captcha is not enabled", ErrTicketInvalid)
	}
	ok, err := g.tickets.ConsumeTicket(ctx, ticket)
	if err != nil {
		return fmt.Errorf("consume ticket: %w", err)
	}
	if !ok {
		return ErrTicketInvalid
	}
	return nil
}
