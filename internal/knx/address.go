package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a KNX group address in 3-level format.
//
// Format: Main/Middle/Sub with Main 0-31 (5 bits), Middle 0-7 (3 bits)
// and Sub 0-255 (8 bits); 16 bits in total on the wire.
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

// Group address limits per the KNX specification.
const (
	maxMain   = 31
	maxMiddle = 7
	maxSub    = 255
)

// ParseGroupAddress parses a 3-level group address string like "1/2/3".
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return GroupAddress{}, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}

	main, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || main > maxMain {
		return GroupAddress{}, fmt.Errorf("%w: main group must be 0-%d, got %q", ErrInvalidGroupAddress, maxMain, parts[0])
	}
	middle, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || middle > maxMiddle {
		return GroupAddress{}, fmt.Errorf("%w: middle group must be 0-%d, got %q", ErrInvalidGroupAddress, maxMiddle, parts[1])
	}
	sub, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil || sub > maxSub {
		return GroupAddress{}, fmt.Errorf("%w: sub group must be 0-%d, got %q", ErrInvalidGroupAddress, maxSub, parts[2])
	}

	return GroupAddress{Main: uint8(main), Middle: uint8(middle), Sub: uint8(sub)}, nil
}

// String returns the address in 3-level format, e.g. "1/2/3".
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address into its 16-bit wire form.
// Layout: MMMMMDDD SSSSSSSS (main 5 bits, middle 3, sub 8).
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a 16-bit wire address.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & 0x1F), //nolint:gosec // masked to 5 bits
		Middle: uint8((value >> 8) & 0x07),  //nolint:gosec // masked to 3 bits
		Sub:    uint8(value & 0xFF),         //nolint:gosec // masked to 8 bits
	}
}
