package bus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Address key prefixes. External keys use the 3-level "main/middle/sub"
// KNX group-address syntax; everything else carries a prefix.
const (
	// InternalPrefix marks an internal communication object key:
	// "IKO:<scope>:<port>".
	InternalPrefix = "IKO:"

	// BlockPrefix marks the input-only "BLOCK:<instance>:<port>"
	// shorthand. It is expanded to an IKO key at bind time and is
	// never stored as an address key.
	BlockPrefix = "BLOCK:"
)

// Group address limits per the KNX 3-level addressing scheme.
const (
	maxMainGroup   = 31
	maxMiddleGroup = 7
	maxSubGroup    = 255
)

// ikoScopePattern validates the scope and port segments of an IKO key.
var ikoScopePattern = regexp.MustCompile(`^[A-Za-z0-9_#-]+$`)

// Normalize folds an address key for case-insensitive uniqueness.
// The folded form is the map key; the original spelling is kept on the
// Address record for display.
func Normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsInternalKey reports whether the key uses the internal IKO syntax.
func IsInternalKey(key string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(key)), InternalPrefix)
}

// IsBlockShorthand reports whether the key uses the BLOCK: input
// shorthand. Shorthand keys are never valid bus keys.
func IsBlockShorthand(key string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(key)), BlockPrefix)
}

// ValidateKey checks an address key against the two accepted syntaxes.
//
// External keys must be "main/middle/sub" with main 0-31, middle 0-7,
// sub 0-255. Internal keys must be "IKO:<scope>:<port>" where scope and
// port match [A-Za-z0-9_#-]+. The BLOCK: shorthand is rejected here; it
// is only meaningful as binding input.
//
// Returns:
//   - internal: true when the key is an IKO key
//   - error: ErrInvalidKey (wrapped) when the key matches neither syntax
func ValidateKey(key string) (internal bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if IsBlockShorthand(key) {
		return false, fmt.Errorf("%w: BLOCK: shorthand cannot be stored as an address key", ErrInvalidKey)
	}

	if IsInternalKey(key) {
		parts := strings.Split(key, ":")
		if len(parts) != 3 {
			return true, fmt.Errorf("%w: expected IKO:<scope>:<port>, got %q", ErrInvalidKey, key)
		}
		if !ikoScopePattern.MatchString(parts[1]) {
			return true, fmt.Errorf("%w: invalid IKO scope %q", ErrInvalidKey, parts[1])
		}
		if !ikoScopePattern.MatchString(parts[2]) {
			return true, fmt.Errorf("%w: invalid IKO port %q", ErrInvalidKey, parts[2])
		}
		return true, nil
	}

	if err := validateGroupKey(key); err != nil {
		return false, err
	}
	return false, nil
}

// validateGroupKey checks the external "main/middle/sub" syntax.
// The knx package owns the wire-level GroupAddress type; the bus only
// needs syntactic validation so it stays free of protocol concerns.
func validateGroupKey(key string) error {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidKey, key)
	}

	limits := [3]uint64{maxMainGroup, maxMiddleGroup, maxSubGroup}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil || n > limits[i] {
			return fmt.Errorf("%w: segment %d of %q must be 0-%d", ErrInvalidKey, i+1, key, limits[i])
		}
	}
	return nil
}

// SplitBlockShorthand splits "BLOCK:<instance>:<port>" into its parts.
// The instance id may itself contain colons, so the split is anchored
// on the first and last separator.
func SplitBlockShorthand(key string) (instance, port string, err error) {
	key = strings.TrimSpace(key)
	if !IsBlockShorthand(key) {
		return "", "", fmt.Errorf("%w: not a BLOCK: shorthand: %q", ErrInvalidKey, key)
	}
	rest := key[len(BlockPrefix):]
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("%w: expected BLOCK:<instance>:<port>, got %q", ErrInvalidKey, key)
	}
	return rest[:idx], rest[idx+1:], nil
}

// IKOKey builds an internal key from a scope and port, sanitising the
// scope so any derived name fits the IKO syntax.
func IKOKey(scope, port string) string {
	return InternalPrefix + sanitizeScope(scope) + ":" + sanitizeScope(port)
}

// sanitizeScope replaces characters outside the IKO alphabet with "_".
func sanitizeScope(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '#', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
