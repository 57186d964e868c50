// Package syncstate persists what the last run saw and published, one file
// per destination.
package syncstate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/retail-sync/internal/storage"
)

var (
	// ErrNoState is returned when no state exists for a destination.
	ErrNoState = errors.New("no sync state found")
)

// State is the value threaded through each pipeline run. It is never shared
// between destinations.
type State struct {
	Destination     string    `json:"destination"`
	SourceLocator   string    `json:"source_locator,omitempty"`
	LastFingerprint string    `json:"last_fingerprint,omitempty"`
	LastRunAt       time.Time `json:"last_run_at"`
	LastSuccessAt   time.Time `json:"last_success_at,omitempty"`
	LastGeneration  string    `json:"last_generation,omitempty"`
	LastPublishedAt time.Time `json:"last_published_at,omitempty"`
}

// IsZero reports whether nothing has been recorded yet.
func (s State) IsZero() bool {
	return s.LastFingerprint == "" && s.LastRunAt.IsZero()
}

// Manager handles state persistence and retrieval.
type Manager interface {
	// Load reads the state of destination.
	Load(ctx context.Context, destination string) (State, error)

	// Save persists the state.
	Save(ctx context.Context, st State) error
}

// Config configures the state manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for state files
}

// NewManager creates a state manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	// Ensure state directory exists
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists state to local files.
type fileManager struct {
	dir string
}

// FileName returns the state file name for destination. Equivalent
// spellings of one destination share a file.
func FileName(destination string) string {
	if canonical, err := storage.CanonicalDestination(destination); err == nil {
		destination = canonical
	}
	sum := sha256.Sum256([]byte(destination))
	return fmt.Sprintf("sync_state_%s.json", hex.EncodeToString(sum[:8]))
}

func (m *fileManager) statePath(destination string) string {
	return filepath.Join(m.dir, FileName(destination))
}

// Load reads the state from file. A missing file yields ErrNoState and a
// State carrying only the destination.
func (m *fileManager) Load(ctx context.Context, destination string) (State, error) {
	empty := State{Destination: destination}

	data, err := os.ReadFile(m.statePath(destination))
	if err != nil {
		if os.IsNotExist(err) {
			return empty, ErrNoState
		}
		return empty, fmt.Errorf("read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return empty, fmt.Errorf("parse state file: %w", err)
	}
	if st.Destination != destination {
		return empty, fmt.Errorf("state file belongs to %q, not %q", st.Destination, destination)
	}
	return st, nil
}

// Save persists the state to file.
func (m *fileManager) Save(ctx context.Context, st State) error {
	if st.Destination == "" {
		return fmt.Errorf("state has no destination")
	}
	path := m.statePath(st.Destination)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// noopManager keeps no state: every run sees a fresh destination.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, destination string) (State, error) {
	return State{Destination: destination}, ErrNoState
}

func (m *noopManager) Save(ctx context.Context, st State) error {
	return nil
}
