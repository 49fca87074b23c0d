package bus

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the runtime type of a Value.
type Kind int

// Value kinds. The bus carries a small tagged union rather than raw
// interface{} so coercion and equality rules stay in one place.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindString
)

// String returns the kind name used in API responses and logs.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is an immutable tagged union of bool | int | real | string | null.
//
// The zero Value is null. Values compare with coercion-aware equality
// (see Equal) so that a boolean 1 from the bus matches an integer 1
// from a block output.
type Value struct {
	kind Kind
	b    bool
	i    int64
	r    float64
	s    string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Real returns a floating-point value.
func Real(v float64) Value { return Value{kind: KindReal, r: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Kind returns the value's kind tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool converts the value to a boolean.
//
// Conversion rules (shared with input coercion):
//   - bool: identity
//   - int/real: non-zero is true
//   - string: "1", "true", "on" are true; "0", "false", "off", "" are false
//
// The second return is false when no sensible conversion exists.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindInt:
		return v.i != 0, true
	case KindReal:
		return v.r != 0, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "1", "true", "on":
			return true, true
		case "0", "false", "off", "":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// AsInt converts the value to an integer, truncating reals.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindInt:
		return v.i, true
	case KindReal:
		return int64(v.r), true
	case KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// AsReal converts the value to a float64.
func (v Value) AsReal() (float64, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindInt:
		return float64(v.i), true
	case KindReal:
		return v.r, true
	case KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// AsString converts the value to its string form.
// This always succeeds for non-null values.
func (v Value) AsString() (string, bool) {
	if v.kind == KindNull {
		return "", false
	}
	return v.Text(), true
}

// Text returns the wire representation used on the KNX side and in
// persistence: booleans are "0"/"1", reals use "." as decimal separator,
// null is the empty string.
func (v Value) Text() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.r, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		return ""
	}
}

// Equal reports coercion-aware equality between two values.
//
// Rules (the cycle-break suppression in Bus.Write depends on these):
//   - null equals only null
//   - numerically coercible values compare as numbers: true == 1 == "1",
//     2 == 2.0, "true" == 1 (via boolean coercion of the string)
//   - the empty string is distinct from null and from 0
//   - otherwise values compare as strings
func (v Value) Equal(o Value) bool {
	if v.kind == KindNull || o.kind == KindNull {
		return v.kind == o.kind
	}

	vn, vok := v.asComparableNumber()
	on, ook := o.asComparableNumber()
	if vok && ook {
		return vn == on
	}
	if vok != ook {
		return false
	}
	return v.Text() == o.Text()
}

// asComparableNumber maps the value onto the numeric axis for equality.
// Boolean words in strings ("true", "on") count as 1/0 so that a string
// "true" coming off the wire matches a boolean or integer 1.
func (v Value) asComparableNumber() (float64, bool) {
	switch v.kind {
	case KindBool, KindInt, KindReal:
		return v.AsReal()
	case KindString:
		s := strings.TrimSpace(v.s)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		switch strings.ToLower(s) {
		case "true", "on":
			return 1, true
		case "false", "off":
			return 0, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// Infer parses a textual value into its most specific typed form.
//
// The rules follow what the KNX side and API layer deliver:
// "true"/"on" and "false"/"off" become booleans, integers that
// round-trip cleanly stay integers, other numbers become reals, and
// everything else stays a string.
func Infer(s string) Value {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "true", "on":
		return Bool(true)
	case "false", "off":
		return Bool(false)
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil && strconv.FormatInt(i, 10) == t {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return Real(f)
	}
	return String(s)
}

// FromAny converts a plain Go value (as produced by encoding/json) into
// a Value. Unknown types fall back to their fmt representation.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return Int(int64(t))
		}
		return Real(t)
	case string:
		return String(t)
	case Value:
		return t
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// MarshalJSON encodes the value in its natural JSON form:
// null, true/false, number, or string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindReal:
		return json.Marshal(v.r)
	case KindString:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar into a Value. JSON numbers that
// are whole become integers; objects and arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = Null()
		return nil
	}

	var decoded interface{}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}

	switch t := decoded.(type) {
	case bool:
		*v = Bool(t)
	case string:
		*v = String(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("decoding number %q: %w", t.String(), err)
		}
		*v = Real(f)
	default:
		return fmt.Errorf("value must be a JSON scalar, got %T", decoded)
	}
	return nil
}
