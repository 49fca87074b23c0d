package block

import "errors"

// Domain errors for the block package.
var (
	// ErrUnknownType is returned when a type key cannot be resolved.
	ErrUnknownType = errors.New("block: unknown type")

	// ErrInvalidDefinition is returned when a user block definition
	// file fails validation.
	ErrInvalidDefinition = errors.New("block: invalid definition")

	// ErrUnknownPort is returned for a port key not in the schema.
	ErrUnknownPort = errors.New("block: unknown port")

	// ErrExprSyntax is returned when an output expression fails to parse.
	ErrExprSyntax = errors.New("block: expression syntax error")
)
