package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackup keeps a local copy of every emitted event.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Path returns the backup file of evt: {generation}.json.
func (f *FileBackup) Path(evt *Event) string {
	return filepath.Join(f.dir, evt.Generation+".json")
}

// Save writes evt to its backup file.
func (f *FileBackup) Save(evt *Event) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := os.WriteFile(f.Path(evt), data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
