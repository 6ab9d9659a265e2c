package common

import "errors"

// ErrNotFound is returned when a requested item (e.g., snapshot key, contact record) is not found.
var ErrNotFound = errors.New("solsync: requested item not found")

// Additional package-level errors
var (
	// ErrUnauthorized is returned after the backend rejected the bearer credential (401/419).
	// The session has already been cleared when a caller sees it.
	ErrUnauthorized = errors.New("solsync: not authorized")
	ErrNoSession    = errors.New("solsync: no active session")
	// ErrTimeout wraps context.DeadlineExceeded for requests aborted by their own deadline.
	ErrTimeout = errors.New("solsync: request timed out")
	// ErrNotModifiedWithoutEntry is surfaced only when the unconditional re-fetch that follows
	// a 304 for an unknown key answers 304 again.
	ErrNotModifiedWithoutEntry = errors.New("solsync: not modified received for a key with no cached entry")
	ErrEmptyNote               = errors.New("solsync: note must not be empty")
	ErrNoChanges               = errors.New("solsync: no changes to save")
	ErrReadOnly                = errors.New("solsync: record is read-only for this user")
	ErrInvalidPage             = errors.New("solsync: invalid page number, must be >= 1")
	ErrNoSelection             = errors.New("solsync: no record selected")
	ErrInvalidLogin            = errors.New("solsync: invalid login")
	ErrImportFailed            = errors.New("solsync: import failed")
)
