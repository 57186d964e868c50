// Package notify emits a hash-chained "artifacts_published" event after each
// publish so that downstream consumers (dashboards, BI refresh hooks) can
// pick up the new generation.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Config configures event emission.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`   // optional HTTP endpoint
	BackupDir   string `yaml:"backup_dir"` // local event log and chain heads
	Strict      bool   `yaml:"strict"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// Publication is what the pipeline knows about a finished publish.
type Publication struct {
	Destination       string
	Generation        string
	StorageURI        string
	SourceFingerprint string
	Tables            map[string]TableInfo
	Producer          ProducerInfo
}

// Emitter is the interface for publication events.
type Emitter interface {
	Emit(ctx context.Context, pub Publication) (*Event, error)
	Close() error
}

// NewEmitter creates an emitter based on configuration. Disabled
// configuration yields a no-op emitter.
func NewEmitter(cfg Config) (Emitter, error) {
	log := slog.With("component", "notify")
	if !cfg.Enabled {
		log.Debug("disabled, using no-op emitter")
		return NoopEmitter{}, nil
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "./state/events"
	}

	tracker, err := NewChainTracker(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	e := &ChainEmitter{tracker: tracker, backup: backup, log: log, now: time.Now}
	if cfg.Endpoint != "" {
		e.poster = newHTTPPoster(cfg)
		log.Info("using HTTP emitter", "endpoint", cfg.Endpoint)
	} else {
		log.Info("using file-only emitter", "dir", cfg.BackupDir)
	}
	return e, nil
}

// ChainEmitter links each event to the previous one for its destination,
// backs it up locally and, when configured, POSTs it.
type ChainEmitter struct {
	tracker *ChainTracker
	backup  *FileBackup
	poster  *httpPoster
	log     *slog.Logger
	now     func() time.Time
}

// Emit builds, chains, backs up and delivers the event. The chain head only
// advances after successful delivery.
func (e *ChainEmitter) Emit(ctx context.Context, pub Publication) (*Event, error) {
	evt := &Event{
		Version:           eventVersion,
		EventType:         eventType,
		EventID:           "evt_" + uuid.NewString(),
		Timestamp:         e.now().UTC(),
		Destination:       pub.Destination,
		Generation:        pub.Generation,
		StorageURI:        pub.StorageURI,
		SourceFingerprint: pub.SourceFingerprint,
		Tables:            pub.Tables,
		Producer:          pub.Producer,
	}

	var prevHash string
	head, err := e.tracker.Head(evt.ChainKey())
	switch {
	case err == nil:
		prevHash = head.EventHash
	case !errors.Is(err, ErrNoChainHead):
		return nil, fmt.Errorf("get chain head: %w", err)
	}
	evt.SetChainHashes(prevHash)

	log := e.log.With("generation", evt.Generation, "event_hash", evt.Chain.EventHash)
	log.Info("emitting publication event", "prev_hash", prevHash)

	// The local copy is written even when delivery fails.
	if err := e.backup.Save(evt); err != nil {
		if e.poster == nil {
			return nil, err
		}
		log.Warn("event backup failed", "error", err)
	}

	if e.poster != nil {
		onRetry := func(err error, wait time.Duration) {
			log.Warn("event delivery failed, retrying", "error", err, "backoff", wait)
		}
		if err := e.poster.postWithRetry(ctx, evt, onRetry); err != nil {
			return nil, fmt.Errorf("emit event: %w", err)
		}
	}

	if err := e.tracker.Advance(evt, e.now()); err != nil {
		log.Warn("failed to update chain head", "error", err)
	}
	return evt, nil
}

// Close releases resources.
func (e *ChainEmitter) Close() error {
	return nil
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Publication) (*Event, error) { return nil, nil }

func (NoopEmitter) Close() error { return nil }
