// Package remanent persists opt-in block state across restarts.
//
// The snapshot is one JSON map of instance id to opaque blob, written
// atomically (temp file + fsync + rename). A snapshot that fails to
// parse at load time is refused and the file left untouched, so a
// partial write can never wipe prior state.
package remanent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// File permissions for snapshot data.
const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Logger defines the logging interface used by the store.
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

// Store reads and writes the remanent snapshot file.
//
// The store is single-writer: only the scheduler's checkpoint task
// calls Write.
type Store struct {
	path   string
	logger Logger
}

// NewStore creates a store for the given snapshot path.
func NewStore(path string) *Store {
	return &Store{path: path, logger: noopLogger{}}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) { s.logger = logger }

// Load reads the snapshot map. A missing file is not an error and
// yields an empty map. A corrupt file is refused: the error is
// returned and the file is retained for inspection.
func (s *Store) Load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("reading remanent snapshot: %w", err)
	}

	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt remanent snapshot %s (file retained): %w", s.path, err)
	}
	if snapshot == nil {
		snapshot = map[string]json.RawMessage{}
	}
	return snapshot, nil
}

// Restore returns the blob for one instance, or nil when absent.
func (s *Store) Restore(instanceID string) (json.RawMessage, error) {
	snapshot, err := s.Load()
	if err != nil {
		return nil, err
	}
	return snapshot[instanceID], nil
}

// Write replaces the snapshot atomically. The previous snapshot
// survives any failure before the final rename.
func (s *Store) Write(snapshot map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding remanent snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".remanent-*.json")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // sync error takes precedence
		return fmt.Errorf("syncing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}

	s.logger.Debug("remanent snapshot written", "instances", len(snapshot), "path", s.path)
	return nil
}
