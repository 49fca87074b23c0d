package knx

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// Transcoding between bus values and DPT-encoded payloads.
//
// The family (the part before the dot) selects the codec; unknown
// families are refused so garbage never reaches the bus cable. An
// empty DPT falls back to DPT1 for booleans and DPT9 for numbers,
// which matches what unconfigured switch/sensor addresses carry in
// practice.

// dptFamily extracts the family from a DPT identifier ("9.001" -> "9").
func dptFamily(dpt string) string {
	if idx := strings.Index(dpt, "."); idx > 0 {
		return dpt[:idx]
	}
	return dpt
}

// EncodeValue converts a bus value into the wire payload for a DPT.
func EncodeValue(v bus.Value, dpt string) ([]byte, error) { //nolint:gocyclo // one case per DPT family
	if dpt == "" {
		return encodeUntyped(v)
	}
	switch dptFamily(dpt) {
	case "1":
		b, ok := v.AsBool()
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrEncodingFailed, v.Text())
		}
		return EncodeDPT1(b), nil
	case "5":
		if dpt == "5.004" || dpt == "5.010" {
			i, ok := v.AsInt()
			if !ok {
				return nil, fmt.Errorf("%w: %q is not an integer", ErrEncodingFailed, v.Text())
			}
			return EncodeDPT5Raw(i)
		}
		f, ok := v.AsReal()
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrEncodingFailed, v.Text())
		}
		return EncodeDPT5(f), nil
	case "9":
		f, ok := v.AsReal()
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrEncodingFailed, v.Text())
		}
		return EncodeDPT9(f)
	case "12":
		i, ok := v.AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrEncodingFailed, v.Text())
		}
		return EncodeDPT12(i)
	case "13":
		i, ok := v.AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrEncodingFailed, v.Text())
		}
		return EncodeDPT13(i)
	case "14":
		f, ok := v.AsReal()
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrEncodingFailed, v.Text())
		}
		return EncodeDPT14(f), nil
	case "16":
		s, ok := v.AsString()
		if !ok {
			return nil, fmt.Errorf("%w: null has no text form", ErrEncodingFailed)
		}
		return EncodeDPT16(s), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDPT, dpt)
	}
}

// encodeUntyped picks a codec for addresses without a DPT hint.
func encodeUntyped(v bus.Value) ([]byte, error) {
	switch v.Kind() {
	case bus.KindBool:
		b, _ := v.AsBool() //nolint:errcheck // kind checked
		return EncodeDPT1(b), nil
	case bus.KindInt, bus.KindReal:
		f, _ := v.AsReal() //nolint:errcheck // kind checked
		return EncodeDPT9(f)
	case bus.KindString:
		s, _ := v.AsString() //nolint:errcheck // kind checked
		return EncodeDPT16(s), nil
	default:
		return nil, fmt.Errorf("%w: cannot encode null", ErrEncodingFailed)
	}
}

// DecodeValue converts a wire payload into a typed bus value.
func DecodeValue(data []byte, dpt string) (bus.Value, error) {
	if dpt == "" {
		// Without a hint, a single byte is most plausibly a switch
		// value; anything longer decodes as DPT9.
		if len(data) == 1 {
			b, err := DecodeDPT1(data)
			if err != nil {
				return bus.Null(), err
			}
			return bus.Bool(b), nil
		}
		f, err := DecodeDPT9(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.Real(f), nil
	}

	switch dptFamily(dpt) {
	case "1":
		b, err := DecodeDPT1(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.Bool(b), nil
	case "5":
		if dpt == "5.004" || dpt == "5.010" {
			i, err := DecodeDPT5Raw(data)
			if err != nil {
				return bus.Null(), err
			}
			return bus.Int(i), nil
		}
		f, err := DecodeDPT5(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.Real(f), nil
	case "9":
		f, err := DecodeDPT9(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.Real(f), nil
	case "12":
		i, err := DecodeDPT12(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.Int(i), nil
	case "13":
		i, err := DecodeDPT13(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.Int(i), nil
	case "14":
		f, err := DecodeDPT14(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.Real(f), nil
	case "16":
		s, err := DecodeDPT16(data)
		if err != nil {
			return bus.Null(), err
		}
		return bus.String(s), nil
	default:
		return bus.Null(), fmt.Errorf("%w: %q", ErrUnsupportedDPT, dpt)
	}
}
