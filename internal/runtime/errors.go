package runtime

import "errors"

// Domain errors for the runtime package.
var (
	// ErrUnknownInstance is returned when an instance id is not known.
	ErrUnknownInstance = errors.New("runtime: unknown block instance")

	// ErrUnloadable is returned when an operation needs the instance's
	// type but the type is not loaded. The instance itself is retained.
	ErrUnloadable = errors.New("runtime: block type not loaded")

	// ErrStopped is returned when the scheduler is shutting down.
	ErrStopped = errors.New("runtime: scheduler stopped")

	// ErrPageExists is returned when creating a page with a taken id.
	ErrPageExists = errors.New("runtime: page already exists")

	// ErrPageNotFound is returned when a page id is not known.
	ErrPageNotFound = errors.New("runtime: page not found")
)
