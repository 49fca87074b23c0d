package binding

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// fakeInstances is a hand-rolled Instances implementation.
type fakeInstances struct {
	// ports maps "instance.port" to existence.
	ports      map[string]bool
	unloadable map[string]bool
	shortNums  map[string]string
	typeNames  map[string]string
}

func (f *fakeInstances) PortInfo(instance, port string, _ Direction) (bool, bool, error) {
	if f.unloadable[instance] {
		return false, true, nil
	}
	if _, known := f.typeNames[instance]; !known {
		return false, false, fmt.Errorf("no such instance")
	}
	return f.ports[instance+"."+port], false, nil
}

func (f *fakeInstances) SourceInfo(instance string) (string, string, error) {
	name, ok := f.typeNames[instance]
	if !ok {
		return "", "", fmt.Errorf("no such instance")
	}
	return f.shortNums[instance], name, nil
}

func newFixture(t *testing.T) (*Table, *bus.Bus, *fakeInstances) {
	t.Helper()
	b := bus.New()
	inst := &fakeInstances{
		ports: map[string]bool{
			"a.E1": true, "a.A1": true,
			"b.E1": true, "b.E2": true, "b.A1": true,
			"c.E1": true, "c.A1": true,
		},
		unloadable: map[string]bool{},
		shortNums:  map[string]string{"a": "1", "b": "2", "c": "3"},
		typeNames:  map[string]string{"a": "NotGate", "b": "AndGate", "c": "OrGate"},
	}
	table := NewTable(b, inst)
	b.SetRefChecker(table)
	return table, b, inst
}

func TestBindAndResolve(t *testing.T) {
	table, b, _ := newFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1", DPT: "1.001"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	bd, err := table.Bind("a", "E1", DirectionInput, "1/1/1", AutoCreateNo)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if bd.AddressKey != "1/1/1" {
		t.Errorf("AddressKey = %q", bd.AddressKey)
	}

	got, ok := table.Resolve("a", "E1")
	if !ok || got.AddressKey != "1/1/1" {
		t.Errorf("Resolve = %+v, %v", got, ok)
	}

	if _, err := table.Bind("a", "E1", DirectionInput, "1/1/1", AutoCreateNo); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("expected ErrAlreadyBound, got %v", err)
	}
}

func TestBindMissingAddress(t *testing.T) {
	table, b, _ := newFixture(t)

	if _, err := table.Bind("a", "E1", DirectionInput, "IKO:x:A1", AutoCreateNo); !errors.Is(err, bus.ErrNotFound) {
		t.Errorf("expected bus.ErrNotFound, got %v", err)
	}

	// Ensure mode creates the address.
	if _, err := table.Bind("a", "E1", DirectionInput, "IKO:x:A1", AutoCreateEnsure); err != nil {
		t.Fatalf("Bind ensure: %v", err)
	}
	addr, err := b.Get("IKO:x:A1")
	if err != nil || !addr.Internal {
		t.Errorf("ensured address missing or not internal: %v", err)
	}
}

func TestBindUnknownPort(t *testing.T) {
	table, b, inst := newFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := table.Bind("a", "E9", DirectionInput, "1/1/1", AutoCreateNo); !errors.Is(err, ErrUnknownPort) {
		t.Errorf("expected ErrUnknownPort, got %v", err)
	}
	if _, err := table.Bind("ghost", "E1", DirectionInput, "1/1/1", AutoCreateNo); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("expected ErrUnknownInstance, got %v", err)
	}

	// Unloadable instances keep their bindings: the schema is unknown,
	// so any port is accepted with a warning.
	inst.unloadable["u"] = true
	if _, err := table.Bind("u", "E7", DirectionInput, "1/1/1", AutoCreateNo); err != nil {
		t.Errorf("unloadable instance binding should be accepted: %v", err)
	}
}

func TestAmbiguousOutput(t *testing.T) {
	table, b, _ := newFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "IKO:shared:A1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := table.Bind("a", "A1", DirectionOutput, "IKO:shared:A1", AutoCreateNo); err != nil {
		t.Fatalf("first output bind: %v", err)
	}
	if _, err := table.Bind("b", "A1", DirectionOutput, "IKO:shared:A1", AutoCreateNo); !errors.Is(err, ErrAmbiguousOutput) {
		t.Errorf("expected ErrAmbiguousOutput, got %v", err)
	}

	// Inputs may still fan out from the same address.
	if _, err := table.Bind("b", "E1", DirectionInput, "IKO:shared:A1", AutoCreateNo); err != nil {
		t.Errorf("input fan-out should be allowed: %v", err)
	}
	if _, err := table.Bind("c", "E1", DirectionInput, "IKO:shared:A1", AutoCreateNo); err != nil {
		t.Errorf("input fan-out should be allowed: %v", err)
	}
	if got := len(table.SubscribersOf("IKO:shared:A1")); got != 2 {
		t.Errorf("SubscribersOf = %d, want 2", got)
	}
}

func TestBlockShorthandDeduplicates(t *testing.T) {
	table, b, _ := newFixture(t)

	// Connect a's output A1 to inputs of b and c via the shorthand.
	bd1, err := table.Bind("b", "E1", DirectionInput, "BLOCK:a:A1", AutoCreateNo)
	if err != nil {
		t.Fatalf("first shorthand bind: %v", err)
	}
	bd2, err := table.Bind("c", "E1", DirectionInput, "BLOCK:a:A1", AutoCreateNo)
	if err != nil {
		t.Fatalf("second shorthand bind: %v", err)
	}

	if bd1.AddressKey != bd2.AddressKey {
		t.Fatalf("shorthand produced two addresses: %q vs %q", bd1.AddressKey, bd2.AddressKey)
	}
	if !strings.HasSuffix(bd1.AddressKey, ":A1") {
		t.Errorf("derived key %q should end with :A1", bd1.AddressKey)
	}
	if !bus.IsInternalKey(bd1.AddressKey) {
		t.Errorf("derived key %q should be an IKO", bd1.AddressKey)
	}

	// Exactly one IKO exists whose key ends with :A1.
	internal := true
	count := 0
	for _, addr := range b.List(bus.Filter{Internal: &internal}) {
		if strings.HasSuffix(addr.Key, ":A1") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("%d IKO addresses ending in :A1, want 1", count)
	}

	// The source output owns the link.
	if src, ok := table.Resolve("a", "A1"); !ok || src.Direction != DirectionOutput || src.AddressKey != bd1.AddressKey {
		t.Errorf("source output binding = %+v, %v", src, ok)
	}
	// And both inputs subscribe.
	if got := len(table.SubscribersOf(bd1.AddressKey)); got != 2 {
		t.Errorf("SubscribersOf = %d, want 2", got)
	}
}

func TestBlockShorthandOutputOnlyForInputs(t *testing.T) {
	table, _, _ := newFixture(t)
	if _, err := table.Bind("a", "A1", DirectionOutput, "BLOCK:b:A1", AutoCreateNo); err == nil {
		t.Error("shorthand must be rejected for output bindings")
	}
}

func TestUnbindAndReferences(t *testing.T) {
	table, b, _ := newFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := table.Bind("a", "E1", DirectionInput, "1/1/1", AutoCreateNo); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// The bus refuses to delete a bound address.
	if err := b.Delete("1/1/1"); !errors.Is(err, bus.ErrInUse) {
		t.Errorf("expected ErrInUse, got %v", err)
	}

	if _, err := table.Unbind("a", "E1"); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if _, err := table.Unbind("a", "E1"); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound, got %v", err)
	}
	if table.HasReferences("1/1/1") {
		t.Error("no references should remain")
	}
	if err := b.Delete("1/1/1"); err != nil {
		t.Errorf("Delete after unbind: %v", err)
	}
}

func TestUnbindInstance(t *testing.T) {
	table, b, _ := newFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := table.Bind("b", "E1", DirectionInput, "1/1/1", AutoCreateNo); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Bind("b", "A1", DirectionOutput, "IKO:out:A1", AutoCreateEnsure); err != nil {
		t.Fatal(err)
	}

	removed := table.UnbindInstance("b")
	if len(removed) != 2 {
		t.Errorf("UnbindInstance removed %d, want 2", len(removed))
	}
	if len(table.All()) != 0 {
		t.Error("table should be empty")
	}
}

func TestUnbindAddress(t *testing.T) {
	table, b, _ := newFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Bind("a", "E1", DirectionInput, "1/1/1", AutoCreateNo); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Bind("b", "E1", DirectionInput, "1/1/1", AutoCreateNo); err != nil {
		t.Fatal(err)
	}

	if n := table.UnbindAddress("1/1/1"); n != 2 {
		t.Errorf("UnbindAddress = %d, want 2", n)
	}
	if table.HasReferences("1/1/1") {
		t.Error("references should be gone")
	}
}
