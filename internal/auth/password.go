package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultLegacySalt is the fixed salt existing credential records were
// digested with.
const DefaultLegacySalt = "Antigravity@2024"

var errPasswordMismatch = errors.New("password mismatch")

// PasswordScheme hashes and verifies passwords.
//
// SECURITY: stored records use hex(md5(password + salt)) with one salt for
// every user. That digest is fast and unsalted per record, so a leaked table
// is cheap to brute force. It is kept only so existing records keep working.
// Records whose hash starts with "$2" are verified with bcrypt instead, which
// lets operators rewrite users one at a time (see gatectl hash-password).
// Moving everyone to bcrypt invalidates legacy hashes, so it needs a reset or
// a rehash-on-login rollout.
type PasswordScheme struct {
	Salt string
}

// NewPasswordScheme returns a scheme using salt, or the default salt when blank.
func NewPasswordScheme(salt string) PasswordScheme {
	if salt == "" {
		salt = DefaultLegacySalt
	}
	return PasswordScheme{Salt: salt}
}

// LegacyDigest returns the stored-form digest of password.
func (p PasswordScheme) LegacyDigest(password string) string {
	sum := md5.Sum([]byte(password + p.Salt))
	return hex.EncodeToString(sum[:])
}

// Verify compares password with hash under whichever scheme hash uses.
func (p PasswordScheme) Verify(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}
	got := p.LegacyDigest(password)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(got)) != 1 {
		return errPasswordMismatch
	}
	return nil
}

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
