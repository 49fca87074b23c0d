package binding

import "errors"

// Domain errors for the binding package.
var (
	// ErrUnknownPort is returned when the port does not exist on the
	// target block's schema. Unloadable instances are exempt: their
	// bindings are accepted with a warning so user intent survives
	// type changes.
	ErrUnknownPort = errors.New("binding: unknown port")

	// ErrAlreadyBound is returned when the port already has a binding.
	// Callers must unbind first.
	ErrAlreadyBound = errors.New("binding: port already bound")

	// ErrAmbiguousOutput is returned when another block output already
	// drives the address.
	ErrAmbiguousOutput = errors.New("binding: address already driven by another output")

	// ErrUnknownInstance is returned when the instance id is not known.
	ErrUnknownInstance = errors.New("binding: unknown block instance")

	// ErrNotBound is returned when unbinding a port with no binding.
	ErrNotBound = errors.New("binding: port not bound")
)
