package api

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the client. Callers match with errors.Is.
var (
	// ErrUnauthenticated means the server rejected the access credential.
	// The client resolves this once via renewal; if it still reaches the
	// caller, the session is gone.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRequiresAuth means the operation was attempted with no session
	// at all. Never retried; the caller must prompt for login first.
	ErrRequiresAuth = errors.New("requires authentication")

	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation error")
	ErrNetwork           = errors.New("network error")
	ErrServer            = errors.New("server error")
	ErrClient            = errors.New("client error")
)

// Error is a structured failure from the remote service.
type Error struct {
	Kind    error  // one of the sentinels above
	Status  int    // HTTP status, 0 for transport failures
	Message string // server-provided reason, if any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (status %d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Kind }

// kindForStatus maps an HTTP status to a failure sentinel.
func kindForStatus(status int) error {
	switch {
	case status == 401:
		return ErrUnauthenticated
	case status == 404:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	case status >= 400:
		return ErrClient
	default:
		return ErrServer
	}
}
