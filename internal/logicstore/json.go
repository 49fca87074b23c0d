package logicstore

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// Round-trip-safe JSON encoding.
//
// Each document level decodes into a raw field map first, lifts the
// known keys into typed fields, and keeps the rest in Extra. Marshal
// re-merges Extra under the typed fields, so foreign keys written by
// other versions survive a load/save cycle with their values unchanged
// (the document is re-encoded, so whitespace and key order may differ).

// Known top-level keys of the config document.
const (
	keyPages     = "pages"
	keyBlocks    = "blocks"
	keyPositions = "positions"
)

// UnmarshalJSON implements lenient, field-preserving decoding for File.
func (f *File) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if p, ok := raw[keyPages]; ok {
		if err := json.Unmarshal(p, &f.Pages); err != nil {
			return fmt.Errorf("pages: %w", err)
		}
		delete(raw, keyPages)
	}
	if b, ok := raw[keyBlocks]; ok {
		if err := json.Unmarshal(b, &f.Blocks); err != nil {
			return fmt.Errorf("blocks: %w", err)
		}
		delete(raw, keyBlocks)
	}
	if p, ok := raw[keyPositions]; ok {
		if err := json.Unmarshal(p, &f.Positions); err != nil {
			return fmt.Errorf("positions: %w", err)
		}
		delete(raw, keyPositions)
	}
	f.Extra = raw
	return nil
}

// MarshalJSON re-merges preserved fields.
func (f *File) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+3)
	for k, v := range f.Extra {
		out[k] = v
	}
	out[keyPages] = f.Pages
	if f.Blocks == nil {
		out[keyBlocks] = []BlockEntry{}
	} else {
		out[keyBlocks] = f.Blocks
	}
	if f.Positions == nil {
		out[keyPositions] = map[string]Position{}
	} else {
		out[keyPositions] = f.Positions
	}
	if f.Pages == nil {
		out[keyPages] = []Page{}
	}
	return json.Marshal(out)
}

// Known keys of a page entry.
const (
	keyPageID          = "id"
	keyPageName        = "name"
	keyPageDescription = "description"
)

// UnmarshalJSON implements field-preserving decoding for Page.
func (p *Page) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := liftString(raw, keyPageID, &p.ID); err != nil {
		return err
	}
	if err := liftString(raw, keyPageName, &p.Name); err != nil {
		return err
	}
	if err := liftString(raw, keyPageDescription, &p.Description); err != nil {
		return err
	}
	p.Extra = raw
	return nil
}

// MarshalJSON re-merges preserved fields.
func (p Page) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	out[keyPageID] = p.ID
	out[keyPageName] = p.Name
	if p.Description != "" || rawHas(p.Extra, keyPageDescription) {
		out[keyPageDescription] = p.Description
	}
	return json.Marshal(out)
}

// Known keys of a block entry.
const (
	keyInstanceID     = "instance_id"
	keyBlockType      = "block_type"
	keyBlockName      = "name"
	keyPageRef        = "page_id"
	keyEnabled        = "enabled"
	keyInputValues    = "input_values"
	keyOutputValues   = "output_values"
	keyInputBindings  = "input_bindings"
	keyOutputBindings = "output_bindings"
)

// UnmarshalJSON implements field-preserving decoding for BlockEntry.
func (b *BlockEntry) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := liftString(raw, keyInstanceID, &b.InstanceID); err != nil {
		return err
	}
	if err := liftString(raw, keyBlockType, &b.BlockType); err != nil {
		return err
	}
	if err := liftString(raw, keyBlockName, &b.Name); err != nil {
		return err
	}
	if err := liftString(raw, keyPageRef, &b.PageID); err != nil {
		return err
	}

	b.Enabled = true
	if v, ok := raw[keyEnabled]; ok {
		if err := json.Unmarshal(v, &b.Enabled); err != nil {
			return fmt.Errorf("%s: %w", keyEnabled, err)
		}
		delete(raw, keyEnabled)
	}

	if err := liftValueMap(raw, keyInputValues, &b.InputValues); err != nil {
		return err
	}
	if err := liftValueMap(raw, keyOutputValues, &b.OutputValues); err != nil {
		return err
	}
	if err := liftStringMap(raw, keyInputBindings, &b.InputBindings); err != nil {
		return err
	}
	if err := liftStringMap(raw, keyOutputBindings, &b.OutputBindings); err != nil {
		return err
	}

	b.Extra = raw
	return nil
}

// MarshalJSON re-merges preserved fields.
func (b BlockEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Extra)+9)
	for k, v := range b.Extra {
		out[k] = v
	}
	out[keyInstanceID] = b.InstanceID
	out[keyBlockType] = b.BlockType
	if b.Name != "" || rawHas(b.Extra, keyBlockName) {
		out[keyBlockName] = b.Name
	}
	if b.PageID != "" || rawHas(b.Extra, keyPageRef) {
		out[keyPageRef] = b.PageID
	}
	out[keyEnabled] = b.Enabled
	out[keyInputValues] = orEmptyValues(b.InputValues)
	out[keyOutputValues] = orEmptyValues(b.OutputValues)
	out[keyInputBindings] = orEmptyStrings(b.InputBindings)
	out[keyOutputBindings] = orEmptyStrings(b.OutputBindings)
	return json.Marshal(out)
}

func liftString(raw map[string]json.RawMessage, key string, dst *string) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	// null is treated as absent (the original wrote page_id: null).
	if string(v) == "null" {
		delete(raw, key)
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	delete(raw, key)
	return nil
}

func liftStringMap(raw map[string]json.RawMessage, key string, dst *map[string]string) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	delete(raw, key)
	return nil
}

func liftValueMap(raw map[string]json.RawMessage, key string, dst *map[string]bus.Value) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	delete(raw, key)
	return nil
}

func rawHas(raw map[string]json.RawMessage, key string) bool {
	_, ok := raw[key]
	return ok
}

func orEmptyValues(m map[string]bus.Value) map[string]bus.Value {
	if m == nil {
		return map[string]bus.Value{}
	}
	return m
}

func orEmptyStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
