// Package storage publishes artifact generations so that readers only ever
// observe a complete set of tables.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/retail-sync/internal/records"
)

var (
	// ErrWrite wraps every failure while staging or committing a generation.
	ErrWrite = errors.New("artifact write failed")

	// ErrNoGeneration is returned when nothing has been published yet.
	ErrNoGeneration = errors.New("no published generation")
)

// ManifestFile is the name of the manifest inside each generation.
const ManifestFile = "manifest.json"

// Manifest describes the contents of a published generation.
type Manifest struct {
	GeneratedAt       time.Time            `json:"generatedAt"`
	SourceFingerprint string               `json:"sourceFingerprint"`
	RowCounts         map[string]int64     `json:"rowCounts"`
	DateRange         DateRange            `json:"dateRange"`
	Rejections        records.Rejections   `json:"rejections"`
	SchemaVersion     string               `json:"schemaVersion"`
	Tables            map[string]TableInfo `json:"tables"`
	Producer          ProducerInfo         `json:"producer"`
}

// DateRange is the observed transaction span, RFC 3339 encoded.
// Both ends are empty when no transaction was accepted.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// NewDateRange formats start and end, leaving zero times empty.
func NewDateRange(start, end time.Time) DateRange {
	var r DateRange
	if !start.IsZero() {
		r.Start = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		r.End = end.Format(time.RFC3339)
	}
	return r
}

// TableInfo describes a single file in the generation.
type TableInfo struct {
	Table    string `json:"table"`
	Format   string `json:"format"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"rowCount"`
	ByteSize int64  `json:"byteSize"`
}

// ProducerInfo describes the software that produced the generation.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"gitSha,omitempty"`
}

// MarshalJSON returns the manifest as indented JSON.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// AtomicStore stages a generation of files and publishes it in a single
// step. Until Finalize returns, readers keep seeing the previous generation.
type AtomicStore interface {
	// WriteTemp writes one file into the staging area of generation gen.
	WriteTemp(ctx context.Context, gen, name string, data []byte) error

	// Finalize makes gen the current generation with one atomic operation.
	// It fails with ErrWrite unless the manifest and every file it lists
	// were staged.
	Finalize(ctx context.Context, gen string) error

	// Rollback withdraws the finalized generation gen: current points at
	// previous again (or at nothing when previous is empty) with one atomic
	// operation, then gen is deleted.
	Rollback(ctx context.Context, gen, previous string) error

	// Abort discards everything staged for gen. It is safe to call twice.
	Abort(ctx context.Context, gen string) error

	// Current returns the published generation id, or ErrNoGeneration.
	Current(ctx context.Context) (string, error)

	// ReadCurrent reads one file of the published generation.
	ReadCurrent(ctx context.Context, name string) ([]byte, error)

	// ReadGeneration reads one file of the finalized generation gen.
	ReadGeneration(ctx context.Context, gen, name string) ([]byte, error)

	// Generations lists finalized generations, oldest first.
	Generations(ctx context.Context) ([]string, error)

	// Prune removes all but the newest keep generations. The current
	// generation is never removed. keep <= 0 disables pruning.
	Prune(ctx context.Context, keep int) ([]string, error)

	// URI returns the canonical URI for a key relative to the store root.
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// NewGenerationID returns a time-ordered generation id; lexical order is
// creation order.
func NewGenerationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GenerationKey returns the key of a file inside a finalized generation.
func GenerationKey(gen, name string) string {
	return path.Join("generations", gen, name)
}

// WriteManifestTemp stages the manifest of gen and returns the bytes written.
func WriteManifestTemp(ctx context.Context, store AtomicStore, gen string, m *Manifest) ([]byte, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal manifest: %w", ErrWrite, err)
	}
	if err := store.WriteTemp(ctx, gen, ManifestFile, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadGenerationManifest returns the manifest of generation gen.
func ReadGenerationManifest(ctx context.Context, store AtomicStore, gen string) (*Manifest, error) {
	data, err := store.ReadGeneration(ctx, gen, ManifestFile)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest of %s: %w", gen, err)
	}
	return &m, nil
}

// ReadManifest returns the manifest of the current generation.
func ReadManifest(ctx context.Context, store AtomicStore) (*Manifest, error) {
	data, err := store.ReadCurrent(ctx, ManifestFile)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// checkStaged fails unless every file the staged manifest of gen lists is
// present in the staging area.
func checkStaged(gen string, manifest []byte, staged func(name string) (bool, error)) error {
	var m Manifest
	if err := json.Unmarshal(manifest, &m); err != nil {
		return fmt.Errorf("%w: decode staged manifest of %s: %w", ErrWrite, gen, err)
	}
	names := make([]string, 0, len(m.Tables))
	for name := range m.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validName(name); err != nil {
			return fmt.Errorf("%w: staged manifest of %s: %w", ErrWrite, gen, err)
		}
		ok, err := staged(name)
		if err != nil {
			return fmt.Errorf("%w: check staged %s: %w", ErrWrite, name, err)
		}
		if !ok {
			return fmt.Errorf("%w: generation %s is incomplete: %s is missing", ErrWrite, gen, name)
		}
	}
	return nil
}

// validName rejects names that would escape the generation directory.
func validName(name string) error {
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

func validGeneration(gen string) error {
	if gen == "" || strings.HasPrefix(gen, ".") || strings.ContainsAny(gen, `/\`) {
		return fmt.Errorf("invalid generation id %q", gen)
	}
	return nil
}

// pruneCandidates returns the generations to delete, oldest first.
func pruneCandidates(gens []string, current string, keep int) []string {
	if keep <= 0 || len(gens) <= keep {
		return nil
	}
	var out []string
	for _, g := range gens[:len(gens)-keep] {
		if g != current {
			out = append(out, g)
		}
	}
	return out
}
