package logicstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// backupVersion is the current backup document version.
const backupVersion = 1

// Backup is the single self-contained export document: all four
// persisted artifacts plus the custom block definition files. Restore
// on a fresh install needs nothing but this document.
type Backup struct {
	Version    int       `json:"version"`
	ID         string    `json:"id"`
	ExportedAt time.Time `json:"exported_at"`

	Addresses    []bus.Address              `json:"addresses"`
	Logic        *File                      `json:"logic"`
	Remanent     map[string]json.RawMessage `json:"remanent"`
	CustomBlocks map[string]string          `json:"custom_blocks"`
}

// NewBackup assembles a backup document.
func NewBackup(addresses []bus.Address, logic *File, rem map[string]json.RawMessage, customBlocks map[string]string) *Backup {
	return &Backup{
		Version:      backupVersion,
		ID:           uuid.NewString(),
		ExportedAt:   time.Now().UTC(),
		Addresses:    addresses,
		Logic:        logic,
		Remanent:     rem,
		CustomBlocks: customBlocks,
	}
}

// Encode serialises the backup document.
func (b *Backup) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding backup: %w", err)
	}
	return data, nil
}

// ParseBackup decodes and validates a backup document.
func ParseBackup(data []byte) (*Backup, error) {
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing backup: %w", err)
	}
	if b.Version != backupVersion {
		return nil, fmt.Errorf("unsupported backup version %d", b.Version)
	}
	if b.Logic == nil {
		b.Logic = &File{Positions: map[string]Position{}}
	}
	if b.Remanent == nil {
		b.Remanent = map[string]json.RawMessage{}
	}
	return &b, nil
}

// CollectCustomBlocks reads the definition files from the custom-blocks
// directory into the backup's filename-to-content map.
func CollectCustomBlocks(dir string) (map[string]string, error) {
	out := map[string]string{}
	if dir == "" {
		return out, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("reading custom blocks: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		out[entry.Name()] = string(data)
	}
	return out, nil
}

// RestoreCustomBlocks writes the backup's definition files into the
// custom-blocks directory. Filenames are sanitised to their base name
// so a crafted backup cannot escape the directory.
func RestoreCustomBlocks(dir string, files map[string]string) error {
	if len(files) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating custom blocks directory: %w", err)
	}
	for name, content := range files {
		base := filepath.Base(name)
		if base == "." || base == ".." || base == "/" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, base), []byte(content), filePermissions); err != nil {
			return fmt.Errorf("writing %s: %w", base, err)
		}
	}
	return nil
}
