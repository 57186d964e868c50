// Package metadata records every published run in a run catalog.
package metadata

import (
	"context"
	"errors"
	"time"
)

// ErrNoRuns is returned by LastRun when the catalog has no entry for a
// destination.
var ErrNoRuns = errors.New("no runs recorded")

// CatalogConfig configures the run catalog. An empty DSN disables it.
type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Strict      bool   `yaml:"strict"`
}

// Writer persists run records.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	LastRun(ctx context.Context, destination string) (*RunRecord, error)
	Close() error
}

// RunRecord is one published generation.
type RunRecord struct {
	RunID             string
	Destination       string
	Generation        string
	StorageURI        string
	SourceFingerprint string
	ManifestChecksum  string

	Transactions int64
	Checkins     int64
	Rejected     int64
	Files        int64
	ByteSize     int64

	ValidationPassed  bool
	ValidationMessage string

	ProducerVersion string
	ProducerGitSHA  string
	Forced          bool
	StartedAt       time.Time
	FinishedAt      time.Time
}

// NewWriter returns the Postgres catalog when a DSN is configured, else a
// writer that records nothing.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return NoopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

// NoopWriter discards run records.
type NoopWriter struct{}

func (NoopWriter) RecordRun(context.Context, RunRecord) error { return nil }

func (NoopWriter) LastRun(context.Context, string) (*RunRecord, error) { return nil, ErrNoRuns }

func (NoopWriter) Close() error { return nil }
