// Package apperrors defines the error taxonomy shared by every gatekeeper
// component. Domain packages wrap these sentinels with fmt.Errorf("%w: ...")
// so callers and the HTTP boundary can branch with errors.Is.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound reports an entity absent by id or key
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a duplicate unique key or an entity still in use
	ErrConflict = errors.New("conflict")

	// ErrForbidden reports a mutation of a SYSTEM entity or a denied capability
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput reports a request that failed validation
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned for every authentication failure.
	// It must never carry detail about which check failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenExpired     = errors.New("token expired")
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenBlacklisted = errors.New("token blacklisted")

	// ErrTransient reports an I/O timeout or unavailable dependency.
	// Safe to retry at the boundary.
	ErrTransient = errors.New("transient failure")
)

// NotFound wraps ErrNotFound with a formatted message
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with a formatted message
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with a formatted message
func Forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// InvalidInput wraps ErrInvalidInput with a formatted message
func InvalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Transient wraps err so that it matches both ErrTransient and the original error
func Transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// FromContext converts a context error into a transient failure.
// It returns nil when ctx has not been cancelled.
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Transient(op, err)
	}
	return nil
}

// IsTransient reports whether err is a transient failure, including bare
// context cancellation and deadline errors that were never classified.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// Code returns a stable, machine readable code for err
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenBlacklisted):
		return "blacklisted"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case IsTransient(err):
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps err onto an HTTP status code
func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "expired", "blacklisted", "invalid", "invalid_credentials":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "forbidden":
		return http.StatusForbidden
	case "invalid_input":
		return http.StatusBadRequest
	case "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
