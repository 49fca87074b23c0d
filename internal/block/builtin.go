package block

import (
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// funcType is the Type implementation for compiled-in blocks.
type funcType struct {
	desc    Descriptor
	factory func() Block
}

func (t funcType) Descriptor() Descriptor { return t.desc }
func (t funcType) New() Block             { return t.factory() }

// Builtins returns the compiled-in block types.
func Builtins() []Type {
	return []Type{
		andType(), orType(), notType(),
		thresholdType(), hysteresisType(),
		multiplyType(), addType(), switchType(),
		pulseType(), timerType(),
	}
}

// boolIn builds a boolean input spec defaulting to false.
func boolIn(name string) PortSpec {
	return PortSpec{Name: name, Type: TypeBool, Default: bus.Bool(false)}
}

// realIn builds a real input spec with the given default.
func realIn(name string, def float64) PortSpec {
	return PortSpec{Name: name, Type: TypeReal, Default: bus.Real(def)}
}

// andGate outputs true only when both inputs are true.
type andGate struct{ BaseBlock }

func andType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10001, Key: "AndGate", Name: "AND Gate",
			Description: "Output is 1 when all inputs are 1",
			Category:    "Logic", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": boolIn("Input 1"),
				"E2": boolIn("Input 2"),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Output", Type: TypeBool},
			},
		},
		factory: func() Block { return &andGate{} },
	}
}

func (b *andGate) Execute(e *Exec) error {
	v1, _ := e.Input("E1").AsBool() //nolint:errcheck // coerced by scheduler
	v2, _ := e.Input("E2").AsBool() //nolint:errcheck // coerced by scheduler
	e.SetOutput("A1", bus.Bool(v1 && v2))
	return nil
}

// orGate outputs true when any input is true.
type orGate struct{ BaseBlock }

func orType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10002, Key: "OrGate", Name: "OR Gate",
			Description: "Output is 1 when at least one input is 1",
			Category:    "Logic", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": boolIn("Input 1"),
				"E2": boolIn("Input 2"),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Output", Type: TypeBool},
			},
		},
		factory: func() Block { return &orGate{} },
	}
}

func (b *orGate) Execute(e *Exec) error {
	v1, _ := e.Input("E1").AsBool() //nolint:errcheck // coerced by scheduler
	v2, _ := e.Input("E2").AsBool() //nolint:errcheck // coerced by scheduler
	e.SetOutput("A1", bus.Bool(v1 || v2))
	return nil
}

// notGate inverts the input.
type notGate struct{ BaseBlock }

func notType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10003, Key: "NotGate", Name: "NOT Gate",
			Description: "Inverts the input",
			Category:    "Logic", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": boolIn("Input"),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Output", Type: TypeBool},
			},
		},
		factory: func() Block { return &notGate{} },
	}
}

func (b *notGate) Execute(e *Exec) error {
	v, _ := e.Input("E1").AsBool() //nolint:errcheck // coerced by scheduler
	e.SetOutput("A1", bus.Bool(!v))
	return nil
}

// threshold outputs true when the value reaches the threshold.
type threshold struct{ BaseBlock }

func thresholdType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10010, Key: "Threshold", Name: "Threshold",
			Description: "Output is 1 when value >= threshold",
			Category:    "Comparison", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": realIn("Value", 0),
				"E2": realIn("Threshold", 50),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Above threshold", Type: TypeBool},
			},
		},
		factory: func() Block { return &threshold{} },
	}
}

func (b *threshold) Execute(e *Exec) error {
	value, _ := e.Input("E1").AsReal() //nolint:errcheck // coerced by scheduler
	limit, _ := e.Input("E2").AsReal() //nolint:errcheck // coerced by scheduler
	e.SetOutput("A1", bus.Bool(value >= limit))
	return nil
}

// hysteresis switches on above the high limit and off below the low one.
type hysteresis struct {
	BaseBlock
	state bool
}

func hysteresisType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10050, Key: "Hysteresis", Name: "Hysteresis",
			Description: "Switches on above the high limit, off below the low limit",
			Category:    "Comparison", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": realIn("Value", 0),
				"E2": realIn("Low limit", 20),
				"E3": realIn("High limit", 25),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Output", Type: TypeBool},
			},
		},
		factory: func() Block { return &hysteresis{} },
	}
}

func (b *hysteresis) Execute(e *Exec) error {
	value, _ := e.Input("E1").AsReal() //nolint:errcheck // coerced by scheduler
	low, _ := e.Input("E2").AsReal()   //nolint:errcheck // coerced by scheduler
	high, _ := e.Input("E3").AsReal()  //nolint:errcheck // coerced by scheduler

	switch {
	case value >= high:
		b.state = true
	case value <= low:
		b.state = false
	}
	e.SetOutput("A1", bus.Bool(b.state))
	return nil
}

// multiply multiplies the value by a factor.
type multiply struct{ BaseBlock }

func multiplyType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10020, Key: "Multiply", Name: "Multiplication",
			Description: "Multiplies the value by a factor",
			Category:    "Calculation", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": realIn("Value", 0),
				"E2": realIn("Factor", 1),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Result", Type: TypeReal},
			},
		},
		factory: func() Block { return &multiply{} },
	}
}

func (b *multiply) Execute(e *Exec) error {
	value, _ := e.Input("E1").AsReal()  //nolint:errcheck // coerced by scheduler
	factor, _ := e.Input("E2").AsReal() //nolint:errcheck // coerced by scheduler
	e.SetOutput("A1", bus.Real(value*factor))
	return nil
}

// add sums two values.
type add struct{ BaseBlock }

func addType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10021, Key: "Add", Name: "Addition",
			Description: "Adds two values",
			Category:    "Calculation", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": realIn("Value 1", 0),
				"E2": realIn("Value 2", 0),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Sum", Type: TypeReal},
			},
		},
		factory: func() Block { return &add{} },
	}
}

func (b *add) Execute(e *Exec) error {
	v1, _ := e.Input("E1").AsReal() //nolint:errcheck // coerced by scheduler
	v2, _ := e.Input("E2").AsReal() //nolint:errcheck // coerced by scheduler
	e.SetOutput("A1", bus.Real(v1+v2))
	return nil
}

// selector routes one of two inputs to the output.
type selector struct{ BaseBlock }

func switchType() Type {
	return funcType{
		desc: Descriptor{
			ID: 10040, Key: "Switch", Name: "Selector",
			Description: "Routes input A or B to the output",
			Category:    "Logic", Version: "1.0", Builtin: true,
			Inputs: map[string]PortSpec{
				"E1": realIn("Input A", 0),
				"E2": realIn("Input B", 0),
				"E3": boolIn("Select (0=A, 1=B)"),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Output", Type: TypeReal},
			},
		},
		factory: func() Block { return &selector{} },
	}
}

func (b *selector) Execute(e *Exec) error {
	sel, _ := e.Input("E3").AsBool() //nolint:errcheck // coerced by scheduler
	if sel {
		e.SetOutput("A1", e.Input("E2"))
	} else {
		e.SetOutput("A1", e.Input("E1"))
	}
	return nil
}
