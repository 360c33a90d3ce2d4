package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const tokenBytes = 32

// TokenMinter produces bearer strings for new sessions. Check rejects
// strings the minter could never have produced, before any store lookup.
type TokenMinter interface {
	Mint(s Session) (string, error)
	Check(token string) error
}

// OpaqueTokens mints 256-bit random tokens encoded as unpadded base64url.
type OpaqueTokens struct{}

func (OpaqueTokens) Mint(Session) (string, error) {
	return randomToken(tokenBytes)
}

func (OpaqueTokens) Check(token string) error {
	if token == "" {
		return ErrUnauthenticated
	}
	return nil
}

// SignedTokens mints HS256 JWTs. Each carries a random jti so two sessions
// for the same user at the same instant never collide.
type SignedTokens struct {
	secret []byte
	issuer string
}

// NewSignedTokens returns a minter keyed with secret.
func NewSignedTokens(secret, issuer string) (*SignedTokens, error) {
	if len(strings.TrimSpace(secret)) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	return &SignedTokens{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}, nil
}

type sessionClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (m *SignedTokens) Mint(s Session) (string, error) {
	jti, err := randomHex(16)
	if err != nil {
		return "", err
	}
	claims := sessionClaims{
		Name: s.Username,
		Role: s.RoleCode,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(s.UserID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Check verifies the signature only. Expiry is owned by the session store,
// which works from its own clock.
func (m *SignedTokens) Check(token string) error {
	if token == "" {
		return ErrUnauthenticated
	}
	_, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return nil
}

// StripBearer removes a leading "Bearer " scheme, case-insensitively.
func StripBearer(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	const prefix = "bearer "
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return header
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
