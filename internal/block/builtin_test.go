package block

import (
	"testing"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// runOnce executes a block once against the given inputs and returns
// the outputs it wrote.
func runOnce(t *testing.T, b Block, in Inputs, triggeredBy string) map[string]bus.Value {
	t.Helper()
	out := make(map[string]bus.Value)
	e := NewExec(triggeredBy, in, func(port string, v bus.Value) {
		out[port] = v
	}, nil)
	if err := b.Execute(e); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return out
}

func TestLogicGates(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		in   Inputs
		want bool
	}{
		{"and true", andType(), Inputs{"E1": bus.Bool(true), "E2": bus.Bool(true)}, true},
		{"and false", andType(), Inputs{"E1": bus.Bool(true), "E2": bus.Bool(false)}, false},
		{"or true", orType(), Inputs{"E1": bus.Bool(false), "E2": bus.Bool(true)}, true},
		{"or false", orType(), Inputs{"E1": bus.Bool(false), "E2": bus.Bool(false)}, false},
		{"not", notType(), Inputs{"E1": bus.Bool(true)}, false},
		{"not inverse", notType(), Inputs{"E1": bus.Bool(false)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runOnce(t, tt.typ.New(), tt.in, "E1")
			got, ok := out["A1"].AsBool()
			if !ok || got != tt.want {
				t.Errorf("A1 = %v (ok=%v), want %v", got, ok, tt.want)
			}
		})
	}
}

func TestThreshold(t *testing.T) {
	b := thresholdType().New()
	out := runOnce(t, b, Inputs{"E1": bus.Real(55), "E2": bus.Real(50)}, "E1")
	if got, _ := out["A1"].AsBool(); !got { //nolint:errcheck // output written above
		t.Error("55 >= 50 should be true")
	}
	out = runOnce(t, b, Inputs{"E1": bus.Real(49.9), "E2": bus.Real(50)}, "E1")
	if got, _ := out["A1"].AsBool(); got { //nolint:errcheck // output written above
		t.Error("49.9 >= 50 should be false")
	}
}

func TestHysteresisHoldsState(t *testing.T) {
	b := hysteresisType().New()
	in := func(v float64) Inputs {
		return Inputs{"E1": bus.Real(v), "E2": bus.Real(20), "E3": bus.Real(25)}
	}

	steps := []struct {
		value float64
		want  bool
	}{
		{22, false}, // between limits, starts off
		{26, true},  // above high, switches on
		{22, true},  // between limits, holds
		{19, false}, // below low, switches off
		{22, false}, // between limits, holds
	}
	for _, step := range steps {
		out := runOnce(t, b, in(step.value), "E1")
		if got, _ := out["A1"].AsBool(); got != step.want { //nolint:errcheck // output written above
			t.Errorf("value %.0f: A1 = %v, want %v", step.value, got, step.want)
		}
	}
}

func TestArithmeticBlocks(t *testing.T) {
	out := runOnce(t, multiplyType().New(), Inputs{"E1": bus.Real(6), "E2": bus.Real(7)}, "E1")
	if got, _ := out["A1"].AsReal(); got != 42 { //nolint:errcheck // output written above
		t.Errorf("multiply = %v", got)
	}

	out = runOnce(t, addType().New(), Inputs{"E1": bus.Real(1.5), "E2": bus.Real(2.5)}, "E1")
	if got, _ := out["A1"].AsReal(); got != 4 { //nolint:errcheck // output written above
		t.Errorf("add = %v", got)
	}
}

func TestSelector(t *testing.T) {
	b := switchType().New()
	out := runOnce(t, b, Inputs{"E1": bus.Real(10), "E2": bus.Real(20), "E3": bus.Bool(false)}, "E3")
	if got, _ := out["A1"].AsReal(); got != 10 { //nolint:errcheck // output written above
		t.Errorf("selector A = %v, want 10", got)
	}
	out = runOnce(t, b, Inputs{"E1": bus.Real(10), "E2": bus.Real(20), "E3": bus.Bool(true)}, "E3")
	if got, _ := out["A1"].AsReal(); got != 20 { //nolint:errcheck // output written above
		t.Errorf("selector B = %v, want 20", got)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		v    bus.Value
		t    PortType
		want bus.Value
		ok   bool
	}{
		{"string to bool", bus.String("on"), TypeBool, bus.Bool(true), true},
		{"int to bool", bus.Int(1), TypeBool, bus.Bool(true), true},
		{"string to real", bus.String("2.5"), TypeReal, bus.Real(2.5), true},
		{"real to int truncates", bus.Real(3.7), TypeInt, bus.Int(3), true},
		{"bool to string", bus.Bool(true), TypeString, bus.String("1"), true},
		{"any passes through", bus.String("x"), TypeAny, bus.String("x"), true},
		{"null passes through", bus.Null(), TypeBool, bus.Null(), true},
		{"garbage to real fails", bus.String("warm"), TypeReal, bus.Null(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Coerce(tt.v, tt.t)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (got.Kind() != tt.want.Kind() || !got.Equal(tt.want)) {
				t.Errorf("Coerce = %v (%v), want %v (%v)", got.Text(), got.Kind(), tt.want.Text(), tt.want.Kind())
			}
		})
	}
}
