package binding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// Direction says which way values flow through a binding.
type Direction string

// Binding directions.
const (
	// DirectionInput routes bus changes into a block input port.
	DirectionInput Direction = "input"

	// DirectionOutput routes block output writes onto the bus.
	DirectionOutput Direction = "output"
)

// AutoCreate controls whether Bind creates a missing address.
type AutoCreate int

// Auto-create modes.
const (
	// AutoCreateNo requires the address to exist.
	AutoCreateNo AutoCreate = iota

	// AutoCreateEnsure creates the address idempotently when absent.
	AutoCreateEnsure
)

// PortRef identifies one port of one block instance.
type PortRef struct {
	Instance string `json:"instance"`
	Port     string `json:"port"`
}

// Binding associates a block port with a bus address.
type Binding struct {
	Instance   string    `json:"instance"`
	Port       string    `json:"port"`
	Direction  Direction `json:"direction"`
	AddressKey string    `json:"address"`
}

// AddressBus is the slice of the bus the table needs.
type AddressBus interface {
	Get(key string) (bus.Address, error)
	Ensure(desc bus.Descriptor) (bus.Address, error)
}

// Instances is the slice of the scheduler the table needs: port schema
// lookups for validation and source info for BLOCK: expansion.
type Instances interface {
	// PortInfo reports whether the port exists on the instance.
	// unloadable is true when the instance's type is not loaded; its
	// schema is unknown, so port validation is impossible.
	PortInfo(instance, port string, dir Direction) (exists, unloadable bool, err error)

	// SourceInfo returns the short instance number and type name used
	// to derive the IKO key for a BLOCK: shorthand source.
	SourceInfo(instance string) (shortNum, typeName string, err error)
}

// Logger defines the logging interface used by the table.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Table is the binding index.
//
// Thread Safety: all methods are safe for concurrent use. The table
// never calls into the bus while holding its own lock, so the bus may
// call HasReferences during delete without deadlocking.
type Table struct {
	addresses AddressBus
	instances Instances
	logger    Logger

	mu           sync.RWMutex
	byPort       map[string]Binding   // instance\x00port -> binding
	inputsByAddr map[string][]PortRef // normalized key -> input subscribers
	outputByAddr map[string]PortRef   // normalized key -> driving output
}

// NewTable creates an empty binding table.
func NewTable(addresses AddressBus, instances Instances) *Table {
	return &Table{
		addresses:    addresses,
		instances:    instances,
		logger:       noopLogger{},
		byPort:       make(map[string]Binding),
		inputsByAddr: make(map[string][]PortRef),
		outputByAddr: make(map[string]PortRef),
	}
}

// SetLogger sets the logger for the table.
func (t *Table) SetLogger(logger Logger) { t.logger = logger }

func portKey(instance, port string) string { return instance + "\x00" + port }

// Bind associates a block port with an address.
//
// A BLOCK:<instance>:<port> address is expanded first: the derived IKO
// is ensured on the bus, the source output is bound to it (reusing an
// existing output binding when one exists), and the binding proceeds
// against the IKO key. The shorthand itself is never stored.
//
// Errors: ErrUnknownInstance, ErrUnknownPort (demoted to a warning for
// unloadable instances), ErrAlreadyBound, ErrAmbiguousOutput, plus bus
// errors when the address is missing and autoCreate is AutoCreateNo.
func (t *Table) Bind(instance, port string, dir Direction, addressKey string, autoCreate AutoCreate) (Binding, error) {
	if bus.IsBlockShorthand(addressKey) {
		if dir != DirectionInput {
			return Binding{}, fmt.Errorf("%w: BLOCK: shorthand is input-only", bus.ErrInvalidKey)
		}
		expanded, err := t.expandShorthand(addressKey)
		if err != nil {
			return Binding{}, err
		}
		addressKey = expanded
	}

	if err := t.validatePort(instance, port, dir); err != nil {
		return Binding{}, err
	}

	addr, err := t.resolveAddress(addressKey, autoCreate)
	if err != nil {
		return Binding{}, err
	}

	b := Binding{Instance: instance, Port: port, Direction: dir, AddressKey: addr.Key}
	if err := t.insert(b); err != nil {
		return Binding{}, err
	}

	t.logger.Debug("port bound",
		"instance", instance, "port", port, "direction", string(dir), "address", addr.Key)
	return b, nil
}

// Unbind removes the binding of a port.
func (t *Table) Unbind(instance, port string) (Binding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := portKey(instance, port)
	b, ok := t.byPort[key]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s.%s", ErrNotBound, instance, port)
	}
	delete(t.byPort, key)
	t.removeFromIndex(b)

	t.logger.Debug("port unbound", "instance", instance, "port", port, "address", b.AddressKey)
	return b, nil
}

// UnbindInstance removes every binding of an instance, returning them.
func (t *Table) UnbindInstance(instance string) []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Binding
	for key, b := range t.byPort {
		if b.Instance != instance {
			continue
		}
		delete(t.byPort, key)
		t.removeFromIndex(b)
		removed = append(removed, b)
	}
	return removed
}

// UnbindAddress removes every binding referencing an address, for use
// when the address itself is deleted. Returns the number removed.
func (t *Table) UnbindAddress(addressKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	norm := bus.Normalize(addressKey)
	removed := 0
	for key, b := range t.byPort {
		if bus.Normalize(b.AddressKey) != norm {
			continue
		}
		delete(t.byPort, key)
		t.removeFromIndex(b)
		removed++
	}
	return removed
}

// Resolve returns the binding of a port.
func (t *Table) Resolve(instance, port string) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byPort[portKey(instance, port)]
	return b, ok
}

// SubscribersOf returns the input ports bound to an address, in a
// stable order.
func (t *Table) SubscribersOf(addressKey string) []PortRef {
	t.mu.RLock()
	defer t.mu.RUnlock()

	refs := t.inputsByAddr[bus.Normalize(addressKey)]
	out := make([]PortRef, len(refs))
	copy(out, refs)
	return out
}

// OutputOf returns the output port driving an address, if any.
func (t *Table) OutputOf(addressKey string) (PortRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.outputByAddr[bus.Normalize(addressKey)]
	return ref, ok
}

// BindingsFor returns all bindings of an instance sorted by port.
func (t *Table) BindingsFor(instance string) []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Binding
	for _, b := range t.byPort {
		if b.Instance == instance {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// All returns every binding in the table.
func (t *Table) All() []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Binding, 0, len(t.byPort))
	for _, b := range t.byPort {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// HasReferences reports whether any binding references the address.
// Implements bus.RefChecker; the bus consults it before delete.
func (t *Table) HasReferences(addressKey string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	norm := bus.Normalize(addressKey)
	if len(t.inputsByAddr[norm]) > 0 {
		return true
	}
	_, driven := t.outputByAddr[norm]
	return driven
}

// expandShorthand materialises a BLOCK:<instance>:<port> reference to
// an IKO address key, binding the source output when necessary.
func (t *Table) expandShorthand(shorthand string) (string, error) {
	srcInstance, srcPort, err := bus.SplitBlockShorthand(shorthand)
	if err != nil {
		return "", err
	}

	// A source output that is already bound owns its link: reuse it.
	// This is the deduplication that keeps one IKO per source port no
	// matter how many inputs connect to it.
	if existing, ok := t.Resolve(srcInstance, srcPort); ok && existing.Direction == DirectionOutput {
		return existing.AddressKey, nil
	}

	shortNum, typeName, err := t.instances.SourceInfo(srcInstance)
	if err != nil {
		return "", fmt.Errorf("%w: shorthand source %q", ErrUnknownInstance, srcInstance)
	}

	ikoKey := bus.IKOKey(shortNum+"_"+typeName, srcPort)
	addr, err := t.addresses.Ensure(bus.Descriptor{
		Key:        ikoKey,
		Name:       typeName + "." + srcPort,
		Internal:   true,
		GroupLabel: typeName,
	})
	if err != nil {
		return "", fmt.Errorf("ensuring IKO for %s: %w", shorthand, err)
	}

	if _, err := t.Bind(srcInstance, srcPort, DirectionOutput, addr.Key, AutoCreateNo); err != nil {
		return "", fmt.Errorf("binding shorthand source output: %w", err)
	}
	t.logger.Info("BLOCK shorthand materialised",
		"source", srcInstance, "port", srcPort, "iko", addr.Key)
	return addr.Key, nil
}

// validatePort checks the port against the instance schema.
func (t *Table) validatePort(instance, port string, dir Direction) error {
	exists, unloadable, err := t.instances.PortInfo(instance, port, dir)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownInstance, instance)
	}
	if exists {
		return nil
	}
	if unloadable {
		// The type is unknown, so the schema is unknown. Accept the
		// binding and keep the user's wiring intact.
		t.logger.Warn("binding accepted for unloadable instance",
			"instance", instance, "port", port)
		return nil
	}
	return fmt.Errorf("%w: %s has no %s port %q", ErrUnknownPort, instance, dir, port)
}

// resolveAddress fetches or creates the target address.
func (t *Table) resolveAddress(addressKey string, autoCreate AutoCreate) (bus.Address, error) {
	if autoCreate == AutoCreateEnsure {
		internal, err := bus.ValidateKey(addressKey)
		if err != nil {
			return bus.Address{}, err
		}
		return t.addresses.Ensure(bus.Descriptor{
			Key:      addressKey,
			Internal: internal,
		})
	}
	return t.addresses.Get(addressKey)
}

// insert records a binding, enforcing the per-port and per-address
// uniqueness rules under one lock acquisition.
func (t *Table) insert(b Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := portKey(b.Instance, b.Port)
	if existing, ok := t.byPort[key]; ok {
		return fmt.Errorf("%w: %s.%s is bound to %q", ErrAlreadyBound, b.Instance, b.Port, existing.AddressKey)
	}

	norm := bus.Normalize(b.AddressKey)
	if b.Direction == DirectionOutput {
		if owner, ok := t.outputByAddr[norm]; ok {
			return fmt.Errorf("%w: %q is driven by %s.%s", ErrAmbiguousOutput, b.AddressKey, owner.Instance, owner.Port)
		}
		t.outputByAddr[norm] = PortRef{Instance: b.Instance, Port: b.Port}
	} else {
		t.inputsByAddr[norm] = append(t.inputsByAddr[norm], PortRef{Instance: b.Instance, Port: b.Port})
	}
	t.byPort[key] = b
	return nil
}

// removeFromIndex drops a binding from the per-address indexes.
// Caller holds t.mu.
func (t *Table) removeFromIndex(b Binding) {
	norm := bus.Normalize(b.AddressKey)
	if b.Direction == DirectionOutput {
		if owner, ok := t.outputByAddr[norm]; ok && owner.Instance == b.Instance && owner.Port == b.Port {
			delete(t.outputByAddr, norm)
		}
		return
	}
	refs := t.inputsByAddr[norm]
	for i, ref := range refs {
		if ref.Instance == b.Instance && ref.Port == b.Port {
			t.inputsByAddr[norm] = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(t.inputsByAddr[norm]) == 0 {
		delete(t.inputsByAddr, norm)
	}
}
