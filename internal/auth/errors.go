package auth

import (
	"errors"
	"fmt"
)

// Errors returned by the authentication core. Callers match them with
// errors.Is and map them to transport status codes.
var (
	ErrConflict       = errors.New("email already registered")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("too many login attempts")
	ErrBadCredentials = errors.New("bad credentials")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("inactive account")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)

	ErrRevocationDisabled = errors.New("token revocation is not configured")
)
