package block

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// Declarative user block types.
//
// A definition file declares ports and one expression per output:
//
//	id: 30001
//	key: Scale
//	name: Scale
//	category: Calculation
//	version: "1.0"
//	inputs:
//	  E1: {name: Value, type: real, default: 0}
//	  E2: {name: Factor, type: real, default: 1}
//	outputs:
//	  A1: {name: Result, type: real, expr: "E1 * E2"}
//
// Every input change re-evaluates all output expressions.

// definitionFile is the YAML shape of a user block definition.
type definitionFile struct {
	ID          int                  `yaml:"id"`
	Key         string               `yaml:"key"`
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Category    string               `yaml:"category"`
	Version     string               `yaml:"version"`
	Author      string               `yaml:"author"`
	Help        string               `yaml:"help"`
	Inputs      map[string]inputDef  `yaml:"inputs"`
	Outputs     map[string]outputDef `yaml:"outputs"`
}

type inputDef struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default any    `yaml:"default"`
}

type outputDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Expr string `yaml:"expr"`
}

// declarativeType is a Type backed by a definition file.
type declarativeType struct {
	desc  Descriptor
	exprs map[string]*Expr // output port -> compiled expression
	order []string         // output ports in stable evaluation order
}

func (t *declarativeType) Descriptor() Descriptor { return t.desc }

func (t *declarativeType) New() Block {
	return &declarativeBlock{typ: t}
}

// declarativeBlock evaluates its type's expressions on every trigger.
type declarativeBlock struct {
	BaseBlock
	typ *declarativeType
}

func (b *declarativeBlock) Execute(e *Exec) error {
	for _, port := range b.typ.order {
		v, err := b.typ.exprs[port].Eval(e.Inputs())
		if err != nil {
			return fmt.Errorf("evaluating %s: %w", port, err)
		}
		e.SetOutput(port, v)
	}
	return nil
}

// LoadDefinition parses and compiles a single definition file.
func LoadDefinition(path string) (Type, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var def definitionFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, filepath.Base(path), err)
	}

	key := def.Key
	if key == "" {
		key = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if def.Name == "" {
		def.Name = key
	}
	if def.Category == "" {
		def.Category = "Custom"
	}
	if def.Version == "" {
		def.Version = "1.0"
	}
	if len(def.Outputs) == 0 {
		return nil, fmt.Errorf("%w: %s declares no outputs", ErrInvalidDefinition, key)
	}

	desc := Descriptor{
		ID: def.ID, Key: key, Name: def.Name,
		Description: def.Description, Category: def.Category,
		Version: def.Version, Author: def.Author, Help: def.Help,
		Inputs:  make(map[string]PortSpec, len(def.Inputs)),
		Outputs: make(map[string]PortSpec, len(def.Outputs)),
	}

	for port, in := range def.Inputs {
		spec, err := buildPortSpec(in.Name, in.Type, in.Default)
		if err != nil {
			return nil, fmt.Errorf("%w: %s input %s: %w", ErrInvalidDefinition, key, port, err)
		}
		desc.Inputs[port] = spec
	}

	exprs := make(map[string]*Expr, len(def.Outputs))
	for port, out := range def.Outputs {
		spec, err := buildPortSpec(out.Name, out.Type, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s output %s: %w", ErrInvalidDefinition, key, port, err)
		}
		desc.Outputs[port] = spec

		if strings.TrimSpace(out.Expr) == "" {
			return nil, fmt.Errorf("%w: %s output %s has no expression", ErrInvalidDefinition, key, port)
		}
		compiled, err := CompileExpr(out.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s output %s: %w", ErrInvalidDefinition, key, port, err)
		}
		for _, id := range compiled.Identifiers() {
			if _, ok := def.Inputs[id]; !ok {
				return nil, fmt.Errorf("%w: %s output %s references unknown input %q",
					ErrInvalidDefinition, key, port, id)
			}
		}
		exprs[port] = compiled
	}

	order := make([]string, 0, len(exprs))
	for port := range exprs {
		order = append(order, port)
	}
	sort.Strings(order)

	return &declarativeType{desc: desc, exprs: exprs, order: order}, nil
}

// buildPortSpec validates a declared port.
func buildPortSpec(name, typ string, def any) (PortSpec, error) {
	t := PortType(typ)
	if typ == "" {
		t = TypeAny
	}
	// The original used "float" and "str"; accept both spellings.
	switch typ {
	case "float":
		t = TypeReal
	case "str":
		t = TypeString
	}
	if !t.Valid() {
		return PortSpec{}, fmt.Errorf("invalid port type %q", typ)
	}

	spec := PortSpec{Name: name, Type: t}
	if def != nil {
		v, ok := Coerce(bus.FromAny(def), t)
		if !ok {
			return PortSpec{}, fmt.Errorf("default %v is not a %s", def, t)
		}
		spec.Default = v
	}
	return spec, nil
}
