package domain

import "errors"

var (
	// ErrLedgerUnavailable indicates the ledger could not be read or written,
	// or that a ledger row was malformed. Requests hitting it are aborted
	// before any state mutation.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrUserNotFound is returned by lookups that do not create rows.
	ErrUserNotFound = errors.New("user not found")

	// ErrQuotaExceeded is returned when a user has no requests left.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrGeneration wraps any failure of the AI backend.
	ErrGeneration = errors.New("generation failed")

	// ErrInvalidCode is returned when a redemption code is not in the registry.
	ErrInvalidCode = errors.New("invalid redemption code")
)
