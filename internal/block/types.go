package block

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// PortType is the enumerated type tag of a block port.
type PortType string

// Port types. There is deliberately no duck typing: every port carries
// one of these tags and values are coerced on delivery.
const (
	TypeBool   PortType = "bool"
	TypeInt    PortType = "int"
	TypeReal   PortType = "real"
	TypeString PortType = "string"
	TypeAny    PortType = "any"
)

// Valid reports whether the tag is a known port type.
func (t PortType) Valid() bool {
	switch t {
	case TypeBool, TypeInt, TypeReal, TypeString, TypeAny:
		return true
	}
	return false
}

// Coerce converts a value to the port type.
//
// Null passes through unchanged (the schema default applies instead).
// The boolean return is false when no conversion exists; callers fall
// back to the port default in that case.
func Coerce(v bus.Value, t PortType) (bus.Value, bool) {
	if v.IsNull() || t == TypeAny || t == "" {
		return v, true
	}
	switch t {
	case TypeBool:
		if b, ok := v.AsBool(); ok {
			return bus.Bool(b), true
		}
	case TypeInt:
		if i, ok := v.AsInt(); ok {
			return bus.Int(i), true
		}
	case TypeReal:
		if f, ok := v.AsReal(); ok {
			return bus.Real(f), true
		}
	case TypeString:
		if s, ok := v.AsString(); ok {
			return bus.String(s), true
		}
	}
	return bus.Null(), false
}

// PortSpec describes one input or output port.
type PortSpec struct {
	// Name is the human-readable port label.
	Name string `json:"name"`

	// Type is the port's value type.
	Type PortType `json:"type"`

	// Default is the value an unset input falls back to.
	// Outputs ignore it.
	Default bus.Value `json:"default,omitempty"`
}

// Descriptor describes a block type.
type Descriptor struct {
	// ID is the numeric type id (unique per type, stable across versions).
	ID int `json:"id"`

	// Key is the type key instances reference (e.g. "NotGate").
	Key string `json:"type"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Version     string `json:"version"`
	Author      string `json:"author,omitempty"`

	// Remanent marks types whose instances opt into state
	// checkpointing across restarts.
	Remanent bool `json:"remanent"`

	// Builtin is true for compiled-in types.
	Builtin bool `json:"builtin"`

	// Help is free-form usage documentation shown in the editor.
	Help string `json:"help,omitempty"`

	Inputs  map[string]PortSpec `json:"inputs"`
	Outputs map[string]PortSpec `json:"outputs"`
}

// Type produces blocks of one kind.
type Type interface {
	Descriptor() Descriptor
	New() Block
}

// Trigger hints passed to Execute besides input port keys.
const (
	TriggerPeriodic = "periodic"
	TriggerInitial  = "initial"
	TriggerManual   = "manual"
)

// Inputs is the coerced input snapshot a block executes against.
type Inputs map[string]bus.Value

// Get returns the value at a port, null when unset.
func (in Inputs) Get(port string) bus.Value {
	return in[port]
}

// Env is the long-lived handle a block receives at Start. Its methods
// are safe from any goroutine: output writes are routed back onto the
// scheduler thread. Background work must stop when Done is closed.
type Env interface {
	// InstanceID returns the owning instance's id.
	InstanceID() string

	// SetOutput writes an output port. The value is coerced to the
	// declared port type and propagated through the bus.
	SetOutput(port string, v bus.Value)

	// Debug pushes a key/value pair to the instance's debug ring.
	Debug(key, value string)

	// Done is closed when the instance stops.
	Done() <-chan struct{}
}

// Exec carries one execution's context. It is only valid for the
// duration of the Execute call and only on the scheduler goroutine.
type Exec struct {
	// TriggeredBy is the input port key that caused this execution,
	// or one of the Trigger* hints.
	TriggeredBy string

	inputs    Inputs
	setOutput func(port string, v bus.Value)
	debug     func(key, value string)
}

// NewExec builds an execution context. Used by the scheduler and tests.
func NewExec(triggeredBy string, inputs Inputs, setOutput func(string, bus.Value), debug func(string, string)) *Exec {
	if setOutput == nil {
		setOutput = func(string, bus.Value) {}
	}
	if debug == nil {
		debug = func(string, string) {}
	}
	return &Exec{
		TriggeredBy: triggeredBy,
		inputs:      inputs,
		setOutput:   setOutput,
		debug:       debug,
	}
}

// Input returns the coerced value at an input port, null when unset.
func (e *Exec) Input(port string) bus.Value { return e.inputs.Get(port) }

// Inputs returns the full input snapshot.
func (e *Exec) Inputs() Inputs { return e.inputs }

// SetOutput writes an output port, applied synchronously on the
// scheduler thread.
func (e *Exec) SetOutput(port string, v bus.Value) { e.setOutput(port, v) }

// Debug pushes a key/value pair to the instance's debug ring.
func (e *Exec) Debug(key, value string) { e.debug(key, value) }

// Block is one executable occurrence of a type.
//
// Start is called once when the instance becomes ready (after remanent
// restore), Execute on every trigger, Stop when the instance is deleted
// or the runtime shuts down. Execute must return promptly; see the
// package comment for the I/O rule.
type Block interface {
	Start(env Env) error
	Execute(e *Exec) error
	Stop()
}

// Remanent is implemented by blocks of remanent types. State is
// captured at every checkpoint; RestoreState runs before Start on the
// next boot when a snapshot exists.
type Remanent interface {
	Block
	RemanentState() (json.RawMessage, error)
	RestoreState(state json.RawMessage) error
}

// Periodic is implemented by blocks that want time-driven triggers in
// addition to input changes. The scheduler enqueues a periodic trigger
// whenever the interval has elapsed since the last periodic trigger.
type Periodic interface {
	Block
	Interval() time.Duration
}

// BaseBlock provides default lifecycle behaviour for blocks that only
// need Execute. Embedders get the Env captured at Start via Env().
type BaseBlock struct {
	env Env
}

// Start stores the environment handle.
func (b *BaseBlock) Start(env Env) error {
	b.env = env
	return nil
}

// Stop does nothing.
func (b *BaseBlock) Stop() {}

// Env returns the environment captured at Start (nil before Start).
func (b *BaseBlock) Env() Env { return b.env }
