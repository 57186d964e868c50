package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  CatalogConfig
	log  *slog.Logger
}

// NewPostgresWriter connects to the catalog and creates its table.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// A run writes one row; keep the pool small.
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool: pool,
		cfg:  cfg,
		log:  slog.With("component", "metadata"),
	}

	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to run catalog")
	return w, nil
}

// initSchema creates the _meta_sync_runs table if it doesn't exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// RecordRun inserts one run. Re-recording the same generation updates it.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO _meta_sync_runs (
			run_id, destination, generation, storage_uri, source_fingerprint,
			manifest_checksum, transactions, checkins, rejected, files, byte_size,
			validation_passed, validation_message, producer_version, producer_git_sha,
			forced, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (destination, generation)
		DO UPDATE SET
			run_id = EXCLUDED.run_id,
			manifest_checksum = EXCLUDED.manifest_checksum,
			finished_at = EXCLUDED.finished_at,
			created_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.Destination,
		rec.Generation,
		nullable(rec.StorageURI),
		rec.SourceFingerprint,
		rec.ManifestChecksum,
		rec.Transactions,
		rec.Checkins,
		rec.Rejected,
		rec.Files,
		rec.ByteSize,
		rec.ValidationPassed,
		nullable(rec.ValidationMessage),
		rec.ProducerVersion,
		nullable(rec.ProducerGitSHA),
		rec.Forced,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	w.log.Info("recorded run", "run_id", rec.RunID, "generation", rec.Generation)
	return nil
}

// LastRun returns the most recent run for destination.
func (w *PostgresWriter) LastRun(ctx context.Context, destination string) (*RunRecord, error) {
	query := `
		SELECT run_id, destination, generation, COALESCE(storage_uri, ''), source_fingerprint,
		       manifest_checksum, transactions, checkins, rejected, files, byte_size,
		       validation_passed, COALESCE(validation_message, ''), producer_version,
		       COALESCE(producer_git_sha, ''), forced, started_at, finished_at
		FROM _meta_sync_runs
		WHERE destination = $1
		ORDER BY finished_at DESC
		LIMIT 1
	`

	var rec RunRecord
	err := w.pool.QueryRow(ctx, query, destination).Scan(
		&rec.RunID, &rec.Destination, &rec.Generation, &rec.StorageURI, &rec.SourceFingerprint,
		&rec.ManifestChecksum, &rec.Transactions, &rec.Checkins, &rec.Rejected, &rec.Files, &rec.ByteSize,
		&rec.ValidationPassed, &rec.ValidationMessage, &rec.ProducerVersion,
		&rec.ProducerGitSHA, &rec.Forced, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRuns
		}
		return nil, fmt.Errorf("get last run: %w", err)
	}
	return &rec, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Writer = (*PostgresWriter)(nil)
