package bus

import "errors"

// Domain errors for the bus package.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, bus.ErrNotFound) {
//	    // handle missing address
//	}
var (
	// ErrNotFound is returned when an address key does not exist.
	ErrNotFound = errors.New("bus: address not found")

	// ErrConflict is returned when creating an address whose key already exists.
	ErrConflict = errors.New("bus: address already exists")

	// ErrInUse is returned when deleting an address that is still bound
	// to at least one block port.
	ErrInUse = errors.New("bus: address in use")

	// ErrInvalidKey is returned when a key matches neither the external
	// group-address syntax nor the internal IKO syntax.
	ErrInvalidKey = errors.New("bus: invalid address key")

	// ErrTypeCoercion is returned when a written value cannot be
	// represented in the address's declared datapoint type.
	ErrTypeCoercion = errors.New("bus: value not representable in datapoint type")
)
