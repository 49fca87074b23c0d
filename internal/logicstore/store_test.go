package logicstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "logic.json"))
	f, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Blocks) != 0 || len(f.Pages) != 0 {
		t.Error("missing file should yield an empty config")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "logic.json"))

	f := &File{
		Pages: []Page{{ID: "p1", Name: "Ground floor", Description: "main"}},
		Blocks: []BlockEntry{{
			InstanceID:     "10003_NotGate_1",
			BlockType:      "NotGate",
			PageID:         "p1",
			Enabled:        true,
			InputValues:    map[string]bus.Value{"E1": bus.Bool(true)},
			InputBindings:  map[string]string{"E1": "1/1/1"},
			OutputBindings: map[string]string{"A1": "IKO:1_NotGate:A1"},
		}},
		Positions: map[string]Position{"10003_NotGate_1": {X: 100, Y: 50}},
	}
	if err := s.Save(f); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Blocks) != 1 {
		t.Fatalf("loaded %d blocks", len(loaded.Blocks))
	}
	blk := loaded.Blocks[0]
	if blk.BlockType != "NotGate" || !blk.Enabled {
		t.Errorf("block = %+v", blk)
	}
	if !blk.InputValues["E1"].Equal(bus.Bool(true)) {
		t.Errorf("input value lost: %v", blk.InputValues)
	}
	if blk.InputBindings["E1"] != "1/1/1" {
		t.Errorf("binding lost: %v", blk.InputBindings)
	}
	if loaded.Positions["10003_NotGate_1"].X != 100 {
		t.Errorf("position lost: %v", loaded.Positions)
	}
}

func TestUnknownFieldsPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logic.json")
	doc := `{
		"format_hint": "editor-v3",
		"pages": [{"id": "p1", "name": "P", "room": "kitchen"}],
		"blocks": [{
			"instance_id": "x1",
			"block_type": "SonosController",
			"enabled": false,
			"input_values": {"E1": 1},
			"favourite_station": "jazz"
		}],
		"positions": {}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path)
	f, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Save(f); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Reload and verify foreign fields survived the round trip.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var reparsed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &reparsed); err != nil {
		t.Fatal(err)
	}
	if string(reparsed["format_hint"]) != `"editor-v3"` {
		t.Errorf("top-level unknown field lost: %s", reparsed["format_hint"])
	}

	f2, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if string(f2.Pages[0].Extra["room"]) != `"kitchen"` {
		t.Errorf("page unknown field lost: %v", f2.Pages[0].Extra)
	}
	if string(f2.Blocks[0].Extra["favourite_station"]) != `"jazz"` {
		t.Errorf("block unknown field lost: %v", f2.Blocks[0].Extra)
	}
	if f2.Blocks[0].Enabled {
		t.Error("enabled=false lost")
	}
}

func TestEnabledDefaultsTrue(t *testing.T) {
	var blk BlockEntry
	if err := json.Unmarshal([]byte(`{"instance_id":"x","block_type":"T"}`), &blk); err != nil {
		t.Fatal(err)
	}
	if !blk.Enabled {
		t.Error("enabled should default to true")
	}
}

func TestNullPageIDTreatedAsAbsent(t *testing.T) {
	var blk BlockEntry
	if err := json.Unmarshal([]byte(`{"instance_id":"x","block_type":"T","page_id":null}`), &blk); err != nil {
		t.Fatal(err)
	}
	if blk.PageID != "" {
		t.Errorf("PageID = %q", blk.PageID)
	}
}

func TestScheduleSaveDebounces(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "logic.json"))
	s.SetSaveDelay(50 * time.Millisecond)

	calls := 0
	for _i := 0; _i < 5; _i++ {
		s.ScheduleSave(func() *File {
			calls++
			return &File{}
		})
	}

	time.Sleep(150 * time.Millisecond)
	if calls != 1 {
		t.Errorf("snapshot called %d times, want 1 (debounced)", calls)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("config not written: %v", err)
	}
}

func TestFlushWritesPending(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "logic.json"))
	s.ScheduleSave(func() *File { return &File{} })
	s.Flush()
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("Flush did not write: %v", err)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scale.yaml"), []byte("key: Scale\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	custom, err := CollectCustomBlocks(dir)
	if err != nil {
		t.Fatalf("CollectCustomBlocks: %v", err)
	}
	b := NewBackup(
		[]bus.Address{{Key: "1/1/1", Name: "Light", Internal: false}},
		&File{Blocks: []BlockEntry{{InstanceID: "x", BlockType: "NotGate", Enabled: true}}},
		map[string]json.RawMessage{"x": json.RawMessage(`{"n":1}`)},
		custom,
	)

	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := ParseBackup(data)
	if err != nil {
		t.Fatalf("ParseBackup: %v", err)
	}
	if len(parsed.Addresses) != 1 || parsed.Addresses[0].Key != "1/1/1" {
		t.Errorf("addresses = %+v", parsed.Addresses)
	}
	if len(parsed.Logic.Blocks) != 1 {
		t.Errorf("logic blocks = %d", len(parsed.Logic.Blocks))
	}
	if parsed.CustomBlocks["scale.yaml"] != "key: Scale\n" {
		t.Errorf("custom blocks = %v", parsed.CustomBlocks)
	}

	// Restore the custom block files into a fresh directory.
	target := filepath.Join(t.TempDir(), "custom")
	if err := RestoreCustomBlocks(target, parsed.CustomBlocks); err != nil {
		t.Fatalf("RestoreCustomBlocks: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "scale.yaml")); err != nil {
		t.Errorf("restored file missing: %v", err)
	}
}

func TestParseBackupRejectsUnknownVersion(t *testing.T) {
	if _, err := ParseBackup([]byte(`{"version": 99}`)); err == nil {
		t.Error("expected version error")
	}
}
