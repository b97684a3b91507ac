package interfaces

import "errors"

// Sentinel errors shared across storage implementations. Callers match with
// errors.Is; handlers map them onto HTTP statuses.
var (
	// ErrNotFound covers both genuinely missing rows and rows that exist
	// under another tenant. The two cases are indistinguishable to callers.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate signals a uniqueness violation (e.g. attaching the same
	// document to a project twice).
	ErrDuplicate = errors.New("already exists")

	// ErrActiveRunExists signals that a queued or running extraction run
	// already holds the slot for its (version, profile, context, level) key.
	ErrActiveRunExists = errors.New("active extraction run exists")

	// ErrInvalidTransition signals a status change that violates lifecycle
	// ordering.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation signals unacceptable input: unsupported content type,
	// oversized file, blocked URL. Retrying the same request cannot succeed.
	ErrValidation = errors.New("validation failed")

	// ErrProviderUnavailable signals an operation that needs an external
	// model provider which is not configured. Uploads, keyword search, and
	// everything else without a provider dependency keep working.
	ErrProviderUnavailable = errors.New("provider not configured")
)
