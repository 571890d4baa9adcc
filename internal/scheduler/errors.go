package scheduler

import "errors"

var (
	// ErrInvalidSource indicates a submission whose source path is missing or empty.
	ErrInvalidSource = errors.New("invalid source path")

	// ErrStopped indicates the scheduler no longer accepts work.
	ErrStopped = errors.New("scheduler stopped")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrNotFound indicates an unknown project ID.
	ErrNotFound = errors.New("project not found")
)
