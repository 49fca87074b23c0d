package remanent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remanent.json")
	store := NewStore(path)

	snapshot := map[string]json.RawMessage{
		"timer-1": json.RawMessage(`{"target_unix":1234567890,"running":true}`),
		"timer-2": json.RawMessage(`{"count":7}`),
	}
	if err := store.Write(snapshot); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d entries, want 2", len(loaded))
	}

	blob, err := store.Restore("timer-2")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	var state struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(blob, &state); err != nil || state.Count != 7 {
		t.Errorf("restored blob = %s (err %v)", blob, err)
	}
}

func TestStoreMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	snapshot, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snapshot) != 0 {
		t.Error("missing file should yield an empty snapshot")
	}

	blob, err := store.Restore("x")
	if err != nil || blob != nil {
		t.Errorf("Restore on missing file = %s, %v", blob, err)
	}
}

func TestStoreRefusesCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remanent.json")
	store := NewStore(path)

	good := map[string]json.RawMessage{"a": json.RawMessage(`1`)}
	if err := store.Write(good); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Corrupt the file in place (simulating a torn write from outside
	// the atomic path).
	if err := os.WriteFile(path, []byte(`{"a": truncated`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load(); err == nil {
		t.Fatal("corrupt snapshot must be refused")
	}
	// The file is retained, not deleted.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("corrupt file should be retained: %v", err)
	}
}

func TestStoreWriteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "remanent.json")
	store := NewStore(path)
	if err := store.Write(map[string]json.RawMessage{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot not created: %v", err)
	}
}
