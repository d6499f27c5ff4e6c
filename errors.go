package syncedcron

import "errors"

var (
	// Registry mutation errors, surfaced synchronously to the caller.
	ErrJobAlreadyExists = errors.New("syncedcron: job already exists")
	ErrJobNotFound      = errors.New("syncedcron: job not found")

	// ErrNoStore reports a scheduler constructed without a record store.
	ErrNoStore = errors.New("syncedcron: no store configured")
)
