// File: errors.go

package tokenizer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingScope        = errors.New("missing scope")
	ErrDriverNotFound      = errors.New("driver not found")
	ErrKeyMaterialMissing  = errors.New("key material missing")
	ErrNoSubject           = errors.New("no subject bound")
	ErrRecordNotFound      = errors.New("token record not found")
	ErrTokenSpaceExhausted = errors.New("unable to generate a unique token value")
	ErrDuplicateToken      = errors.New("token value already stored")
	ErrProviderNotFound    = errors.New("no provider for owner type")
)

// Causes reported by JWTDriver.Verify.
var (
	ErrTokenMalformed       = errors.New("token is malformed")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrSignatureInvalid     = errors.New("token signature is invalid")
	ErrTokenNotYetValid     = errors.New("token is not valid yet")
	ErrTokenExpired         = errors.New("token has expired")
)

// MissingScopeError is returned when a token lacks one or more required scopes.
type MissingScopeError struct {
	Scopes []string
}

func (e *MissingScopeError) Error() string {
	if len(e.Scopes) == 0 {
		return ErrMissingScope.Error()
	}
	return fmt.Sprintf("missing scope: %s", strings.Join(e.Scopes, ", "))
}

// Is makes errors.Is(err, ErrMissingScope) true for any MissingScopeError.
func (e *MissingScopeError) Is(target error) bool {
	return target == ErrMissingScope
}

// StatusCode maps an error to the HTTP status a handler should answer with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrNoSubject):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingScope):
		return http.StatusForbidden
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
