package progress

import "errors"

// Error taxonomy shared by every store, the manager, and the HTTP boundary.
// Implementations wrap these with %w so callers can match with errors.Is.
var (
	// ErrNotFound indicates the referenced task or input is absent or expired.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates the cached input outlived its retention window while
	// the task itself is still present. The caller should re-upload.
	ErrExpired = errors.New("input expired")

	// ErrAlreadyExists indicates a task or input was written twice.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition indicates a status write that would regress or
	// leave a terminal state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStorageUnavailable indicates the backing store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrBroadcastUnreachable indicates an update could not be handed to the
	// fan-out layer. It is never returned to workers.
	ErrBroadcastUnreachable = errors.New("broadcast unreachable")

	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
)
