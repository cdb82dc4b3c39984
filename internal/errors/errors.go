package errors

import (
	"errors"
	"fmt"
)

// Session lifecycle errors.
var (
	// ErrNetwork covers transport failures, timeouts and non-2xx responses.
	ErrNetwork = errors.New("network error")
	// ErrInvalidCredentials means the backend rejected the login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTenantNotFound means no tenant is registered for the identifier.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrMalformedResponse means the envelope reported success but required
	// fields were missing or undecodable.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrAuthExpired means refresh retries were exhausted and the session was
	// dropped.
	ErrAuthExpired = errors.New("authentication expired")

	ErrInvalidInput     = errors.New("invalid input")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Wrapf wraps err with a formatted message. A nil err stays nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
