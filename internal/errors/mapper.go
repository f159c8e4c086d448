package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps external errors onto the registry error taxonomy.
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper implements the registry error taxonomy mapping.
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper.
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps external errors onto registry error categories.
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	// Propagate context errors as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	// Already categorized errors pass through untouched
	for _, sentinel := range []error{
		ErrUnauthenticated, ErrNotFound, ErrValidation,
		ErrUpstreamTrigger, ErrUpstreamFunction,
		ErrConflict, ErrTransient, ErrInternal,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	// Map based on error message content
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"), strings.Contains(errStr, "no such file"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	case strings.Contains(errStr, "unauthenticated"), strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"):
		return fmt.Errorf("access denied: %w", ErrUnauthenticated)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "invalid"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "malformed"):
		return fmt.Errorf("invalid request: %w", ErrValidation)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"):
		return fmt.Errorf("network error: %w", ErrTransient)

	case strings.Contains(errStr, "conflict"), strings.Contains(errStr, "already exists"):
		return fmt.Errorf("conflict: %w", ErrConflict)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// IsRetryable determines if an error should trigger a retry.
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the taxonomy category name for an error.
func (m *DefaultErrorMapper) Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "ErrUnauthenticated"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrValidation):
		return "ErrValidation"
	case errors.Is(err, ErrUpstreamTrigger):
		return "ErrUpstreamTrigger"
	case errors.Is(err, ErrUpstreamFunction):
		return "ErrUpstreamFunction"
	case errors.Is(err, ErrConflict):
		return "ErrConflict"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with context and attaches a taxonomy
// category when the error does not already carry one.
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}
	if IsCategory(err, category) {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s: %v: %w", message, err, category)
}

// IsCategory checks if error belongs to a specific category.
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Unauthenticated wraps a message as unauthenticated.
func Unauthenticated(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUnauthenticated)
}

// NotFound wraps a message as not found.
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// Validation wraps a message as a validation failure.
func Validation(message string) error {
	return fmt.Errorf("%s: %w", message, ErrValidation)
}

// UpstreamTrigger wraps a message as a trigger registration failure.
func UpstreamTrigger(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUpstreamTrigger)
}

// UpstreamFunction wraps a message as an upstream function failure.
func UpstreamFunction(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUpstreamFunction)
}

// Transient wraps a message as transient.
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps a message as internal.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable checks if an error is transient or conflict related.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}

// BlocksWrite reports whether the error category means the attempted state
// transition was rejected before anything was persisted. Callers use it to
// phrase user-facing messages: "nothing was saved" vs "saved, but a side
// effect failed".
func BlocksWrite(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUpstreamTrigger)
}
