package policy

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("invalid or missing token")

// AuthorizeToken compares a caller-supplied token against the configured one.
// An empty expected token disables the check.
func AuthorizeToken(expected, supplied string) error {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return nil
	}
	supplied = strings.TrimSpace(supplied)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
