package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/retail-sync/internal/config"
	"github.com/withObsrvr/retail-sync/internal/lock"
	"github.com/withObsrvr/retail-sync/internal/logging"
	"github.com/withObsrvr/retail-sync/internal/metrics"
	"github.com/withObsrvr/retail-sync/internal/storage"
	"github.com/withObsrvr/retail-sync/internal/syncstate"
)

// StoreOpener opens the artifact store of a destination.
type StoreOpener func(ctx context.Context, destination string) (storage.AtomicStore, error)

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	LockDir   string
	States    syncstate.Manager
	OpenStore StoreOpener // defaults to storage.Open

	// Pipeline is the template for each run; its Store is set per run.
	Pipeline Options
}

// Runner executes complete runs: lock, state, store, pipeline, state.
// It is safe to call Run concurrently; the run lock serializes runs per
// destination.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.OpenStore == nil {
		cfg.OpenStore = storage.Open
	}
	if cfg.States == nil {
		cfg.States, _ = syncstate.NewManager(syncstate.Config{Enabled: false})
	}
	return &Runner{cfg: cfg}
}

// Run performs one run for req.Destination. A run that finds the lock held
// returns OutcomeBusy and no error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	runID := logging.GenerateRunID()
	ctx = logging.WithRunID(ctx, runID)
	log := logging.RunLogger(runID, req.Destination, req.Force)

	// Lock, state, catalog and events all key on one spelling.
	dest, err := storage.CanonicalDestination(req.Destination)
	if err != nil {
		return r.finish(log, &Result{Outcome: OutcomeFailed, RunID: runID}, started, fmt.Errorf("%w: %w", config.ErrInvalid, err))
	}
	if dest != req.Destination {
		req.Destination = dest
		log = logging.RunLogger(runID, dest, req.Force)
	}

	lk, err := lock.TryAcquire(r.cfg.LockDir, req.Destination)
	if errors.Is(err, lock.ErrBusy) {
		log.Info("another run holds the lock, skipping")
		if m := metrics.Get(); m != nil {
			m.IncRunsBusy()
		}
		return &Result{Outcome: OutcomeBusy, RunID: runID}, nil
	}
	if err != nil {
		return r.finish(log, &Result{Outcome: OutcomeFailed, RunID: runID}, started, fmt.Errorf("acquire run lock: %w", err))
	}
	defer func() {
		if err := lk.Release(); err != nil {
			log.Warn("failed to release run lock", "path", lk.Path(), "error", err)
		}
	}()

	res, err := r.run(ctx, req)
	if res == nil {
		res = &Result{Outcome: OutcomeFailed}
	}
	res.RunID = runID
	return r.finish(log, res, started, err)
}

func (r *Runner) run(ctx context.Context, req Request) (*Result, error) {
	prior, err := r.cfg.States.Load(ctx, req.Destination)
	if err != nil && !errors.Is(err, syncstate.ErrNoState) {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	store, err := r.cfg.OpenStore(ctx, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("%w: open destination: %w", storage.ErrWrite, err)
	}
	defer store.Close()

	opts := r.cfg.Pipeline
	opts.Store = store
	p, err := New(opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	res, next, err := p.Run(ctx, prior, req)
	if err != nil {
		return res, err
	}

	// The state belongs to a finished run; a late signal must not lose it.
	if err := r.cfg.States.Save(context.WithoutCancel(ctx), next); err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("%w: %w", ErrStateSave, err)
	}
	return res, nil
}

// finish logs the outcome and records run metrics.
func (r *Runner) finish(log *slog.Logger, res *Result, started time.Time, err error) (*Result, error) {
	elapsed := time.Since(started)
	if err != nil {
		res.Outcome = OutcomeFailed
	}
	if m := metrics.Get(); m != nil {
		m.IncRuns(string(res.Outcome), elapsed.Seconds())
	}

	code := ExitCode(res.Outcome, err)
	if err != nil {
		log.Error("run failed",
			"reason", Reason(err),
			"exit_code", code,
			"duration", elapsed.String(),
			"error", err,
		)
		return res, err
	}
	log.Info("run complete",
		"outcome", res.Outcome,
		"exit_code", code,
		"generation", res.Generation,
		"duration", elapsed.String(),
	)
	return res, nil
}
