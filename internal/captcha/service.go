// Package captcha implements the slide-puzzle human check that gates login.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
)

const (
	DefaultChallengeTTL = 300 * time.Second
	DefaultTicketTTL    = 300 * time.Second
	DefaultTolerance    = 5

	MessageVerified = "verified"
	MessageExpired  = "expired"
	MessageMismatch = "offset too large"
)

type layout struct {
	width, height             int
	sliderWidth, sliderHeight int
	margin                    int
}

func (l layout) validate() error {
	if l.sliderWidth <= 0 || l.sliderHeight <= 0 || l.margin < 0 {
		return errors.New("captcha: slider size must be positive")
	}
	if l.width-l.sliderWidth-2*l.margin < 0 {
		return errors.New("captcha: slider does not fit horizontally")
	}
	if l.height-l.sliderHeight-2*verticalPad < 0 {
		return errors.New("captcha: slider does not fit vertically")
	}
	return nil
}

const verticalPad = 5

// Puzzle is what the client needs to render a challenge.
type Puzzle struct {
	CaptchaID       string `json:"captchaId"`
	BackgroundImage string `json:"backgroundImage"`
	SliderImage     string `json:"sliderImage"`
	SliderY         int    `json:"sliderY"`
}

// Verification is the outcome of one attempt. Reason is ErrCaptchaExpired or
// ErrCaptchaMismatch when Success is false.
type Verification struct {
	Success bool   `json:"success"`
	Ticket  string `json:"token,omitempty"`
	Message string `json:"message"`
	Reason  error  `json:"-"`
}

// Service issues and checks puzzles.
type Service struct {
	challenges   ChallengeStore
	tickets      TicketStore
	layout       layout
	challengeTTL time.Duration
	ticketTTL    time.Duration
	tolerance    int
	intn         func(int) int
	now          func() time.Time
	log          *zap.Logger
}

// Option configures Service.
type Option func(*Service) error

// WithSize overrides the 300x150 background and 50x50 slider.
func WithSize(width, height, sliderWidth, sliderHeight int) Option {
	return func(s *Service) error {
		s.layout.width, s.layout.height = width, height
		s.layout.sliderWidth, s.layout.sliderHeight = sliderWidth, sliderHeight
		return nil
	}
}

func WithChallengeTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return errors.New("captcha: challenge ttl must be positive")
		}
		s.challengeTTL = d
		return nil
	}
}

func WithTicketTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return errors.New("captcha: ticket ttl must be positive")
		}
		s.ticketTTL = d
		return nil
	}
}

// WithTolerance sets the accepted pixel offset.
func WithTolerance(px int) Option {
	return func(s *Service) error {
		if px < 0 {
			return errors.New("captcha: tolerance must not be negative")
		}
		s.tolerance = px
		return nil
	}
}

// WithRandom replaces the source used for positions and noise. fn must
// return a value in [0, n).
func WithRandom(fn func(n int) int) Option {
	return func(s *Service) error {
		if fn != nil {
			s.intn = fn
		}
		return nil
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// New builds a Service over the given stores. A single MemoryStore may serve
// as both.
func New(challenges ChallengeStore, tickets TicketStore, opts ...Option) (*Service, error) {
	if challenges == nil || tickets == nil {
		return nil, errors.New("captcha: challenge and ticket stores are required")
	}
	s := &Service{
		challenges:   challenges,
		tickets:      tickets,
		layout:       layout{width: 300, height: 150, sliderWidth: 50, sliderHeight: 50, margin: 10},
		challengeTTL: DefaultChallengeTTL,
		ticketTTL:    DefaultTicketTTL,
		tolerance:    DefaultTolerance,
		intn:         rand.IntN,
		now:          time.Now,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := s.layout.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Generate renders a new puzzle and stores its secret offset.
func (s *Service) Generate(ctx context.Context) (Puzzle, error) {
	l := s.layout
	x := l.margin + s.intn(l.width-l.sliderWidth-2*l.margin+1)
	y := verticalPad + s.intn(l.height-l.sliderHeight-2*verticalPad+1)

	bg, slider := puzzleImages(s.intn, l, x, y)
	bgURI, err := pngDataURI(bg)
	if err != nil {
		return Puzzle{}, fmt.Errorf("encode background: %w", err)
	}
	sliderURI, err := pngDataURI(slider)
	if err != nil {
		return Puzzle{}, fmt.Errorf("encode slider: %w", err)
	}

	now := s.now()
	c := Challenge{
		ID:        uuid.NewString(),
		TargetX:   x,
		TargetY:   y,
		CreatedAt: now,
		ExpiresAt: now.Add(s.challengeTTL),
	}
	if err := s.challenges.PutChallenge(ctx, c); err != nil {
		return Puzzle{}, fmt.Errorf("store challenge: %w", err)
	}
	return Puzzle{
		CaptchaID:       c.ID,
		BackgroundImage: bgURI,
		SliderImage:     sliderURI,
		SliderY:         y,
	}, nil
}

// Verify checks x against the challenge and burns the challenge either way.
// Only storage failures are returned as errors.
func (s *Service) Verify(ctx context.Context, id string, x int) (Verification, error) {
	id = strings.TrimSpace(id)
	now := s.now()
	c, ok, err := s.challenges.TakeChallenge(ctx, id, now)
	if err != nil {
		return Verification{}, fmt.Errorf("take challenge: %w", err)
	}
	if !ok {
		return Verification{Message: MessageExpired, Reason: auth.ErrCaptchaExpired}, nil
	}

	// Compare against bounds rather than |TargetX-x|: x is client input and
	// the subtraction can overflow.
	if x < 0 || x > s.layout.width || x < c.TargetX-s.tolerance || x > c.TargetX+s.tolerance {
		s.log.Debug("captcha mismatch", zap.String("captcha_id", id), zap.Int("target_x", c.TargetX), zap.Int("x", x))
		return Verification{Message: MessageMismatch, Reason: auth.ErrCaptchaMismatch}, nil
	}

	ticket := uuid.NewString()
	if err := s.tickets.PutTicket(ctx, ticket, now.Add(s.ticketTTL)); err != nil {
		return Verification{}, fmt.Errorf("store ticket: %w", err)
	}
	return Verification{Success: true, Ticket: ticket, Message: MessageVerified}, nil
}

// ValidateTicket reports whether ticket is live without redeeming it.
func (s *Service) ValidateTicket(ctx context.Context, ticket string) (bool, error) {
	ticket = strings.TrimSpace(ticket)
	if ticket == "" {
		return false, nil
	}
	return s.tickets.HasTicket(ctx, ticket, s.now())
}

// ConsumeTicket redeems ticket; it returns true at most once per ticket.
func (s *Service) ConsumeTicket(ctx context.Context, ticket string) (bool, error) {
	ticket = strings.TrimSpace(ticket)
	if ticket == "" {
		return false, nil
	}
	return s.tickets.TakeTicket(ctx, ticket, s.now())
}

// Sweep drops expired challenges and tickets and returns how many went.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	c, err := s.challenges.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		return 0, err
	}
	t, err := s.tickets.DeleteExpiredTickets(ctx, now)
	if err != nil {
		return c, err
	}
	if c+t > 0 {
		s.log.Debug("captcha sweep", zap.Int("challenges", c), zap.Int("tickets", t))
	}
	return c + t, nil
}
