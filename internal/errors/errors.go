package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrUnauthenticated - no merchant identity could be established; nothing was saved
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound - operation targets a record that doesn't exist; nothing was saved
	ErrNotFound = errors.New("not found")

	// ErrValidation - normalized settings fail the agent type's schema; nothing was saved
	ErrValidation = errors.New("validation failed")

	// ErrUpstreamTrigger - external trigger registration failed; connect aborts all-or-nothing
	ErrUpstreamTrigger = errors.New("trigger registration failed")

	// ErrUpstreamFunction - AI generation or categorization call failed; the enrollment
	// write itself may already have succeeded
	ErrUpstreamFunction = errors.New("upstream function failed")

	// ErrConflict - conflicting concurrent write (retry deterministically)
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error (generic message + trace id)
	ErrInternal = errors.New("internal error")
)
