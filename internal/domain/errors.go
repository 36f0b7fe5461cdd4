package domain

import "errors"

var (
	// ErrNotFound is returned when something is not found
	ErrNotFound = errors.New("item not found")
	ErrConflict = errors.New("item already exists")
	// ErrPermissionDenied is returned before the store is ever reached when a
	// session lacks the capability for an operation.
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrNoSession        = errors.New("no active session")
	// ErrConfirmationNotFound covers both unknown and expired confirmation
	// tokens; a cleared confirmation must be re-requested before retrying.
	ErrConfirmationNotFound = errors.New("confirmation not found or expired")
)
