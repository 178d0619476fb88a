package errors

import (
	"errors"
	"fmt"
)

// Common error types for the SSO bridge service
var (
	// Flow errors
	ErrStateNotFound   = errors.New("state not found")
	ErrInvalidState    = errors.New("invalid state parameter")
	ErrInvalidNonce    = errors.New("invalid nonce")
	ErrMissingIDToken  = errors.New("no id_token in token response")
	ErrNoNavigator     = errors.New("no navigator configured for redirect")
	ErrProviderMissing = errors.New("identity provider not initialised")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrNoSession       = errors.New("no session in context")

	// Config errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers only import this package
func New(text string) error {
	return errors.New(text)
}
