package auth

import "errors"

var (
	ErrValidation      = errors.New("auth: invalid input")
	ErrAuthFailed      = errors.New("auth: invalid username or password")
	ErrUnauthenticated = errors.New("auth: not authenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrCodeConflict    = errors.New("auth: code already exists")
	ErrNotFound        = errors.New("auth: not found")
	ErrCaptchaExpired  = errors.New("auth: captcha expired")
	ErrCaptchaMismatch = errors.New("auth: captcha mismatch")
	ErrTicketInvalid   = errors.New("auth: captcha ticket invalid")
)
