package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/retail-sync/internal/metrics"
	"github.com/withObsrvr/retail-sync/internal/storage"
	"github.com/withObsrvr/retail-sync/internal/tables"
)

// published describes a finalized generation.
type published struct {
	generation       string
	uri              string
	bytes            int64
	manifestChecksum string
	previous         string // generation that was current before; "" if none
}

// publish is the transactional lifecycle for one generation.
//
// The order of operations must not change:
//  1. Stage every table file under a fresh generation id
//  2. Stage the manifest
//  3. Remember the current generation
//  4. Check for cancellation one last time
//  5. Finalize (single atomic commit)
//
// Any failure before step 5 aborts the staged generation so that readers
// keep seeing the previous one. Finalize runs without cancellation so that
// a signal cannot interrupt the commit halfway. Pruning is left to the
// caller so that a later failure can still roll back to the previous
// generation.
func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, files []tables.File, manifest *storage.Manifest) (pub *published, err error) {
	store := p.opts.Store
	gen := storage.NewGenerationID()
	log = log.With("generation", gen)

	phase := "temp"
	defer func() {
		if err == nil {
			return
		}
		if m := metrics.Get(); m != nil && ctx.Err() == nil {
			m.IncStorageErrors(phase)
		}
		if aerr := store.Abort(context.WithoutCancel(ctx), gen); aerr != nil {
			log.Warn("failed to abort staged generation", "error", aerr)
		}
	}()

	var total int64
	for _, f := range files {
		if err := checkCancelled(ctx, "write "+f.Name); err != nil {
			return nil, err
		}
		if err := store.WriteTemp(ctx, gen, f.Name, f.Data); err != nil {
			return nil, asWriteError(fmt.Errorf("stage %s: %w", f.Name, err))
		}
		total += f.ByteSize()
		log.Debug("staged table",
			"file", f.Name,
			"rows", f.RowCount,
			"bytes", f.ByteSize(),
			"checksum", f.Checksum,
		)
	}

	data, err := storage.WriteManifestTemp(ctx, store, gen, manifest)
	if err != nil {
		return nil, asWriteError(fmt.Errorf("stage manifest: %w", err))
	}

	previous, err := store.Current(ctx)
	if err != nil && !errors.Is(err, storage.ErrNoGeneration) {
		return nil, asWriteError(fmt.Errorf("read current generation: %w", err))
	}

	if err := checkCancelled(ctx, "finalize"); err != nil {
		return nil, err
	}
	phase = "finalize"
	if err := store.Finalize(context.WithoutCancel(ctx), gen); err != nil {
		return nil, asWriteError(fmt.Errorf("finalize: %w", err))
	}

	pub = &published{
		generation:       gen,
		uri:              store.URI(storage.GenerationKey(gen, "")),
		bytes:            total + int64(len(data)),
		manifestChecksum: tables.ComputeChecksum(data),
		previous:         previous,
	}
	if m := metrics.Get(); m != nil {
		m.SetPublished(len(files)+1, pub.bytes)
	}
	return pub, nil
}

// withdraw rolls a finalized generation back after a strict post-publish
// step failed, so that readers see the previous generation again.
func (p *Pipeline) withdraw(ctx context.Context, log *slog.Logger, pub *published, cause error) error {
	err := p.opts.Store.Rollback(context.WithoutCancel(ctx), pub.generation, pub.previous)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStorageErrors("rollback")
		}
		log.Error("failed to withdraw generation", "previous", pub.previous, "error", err)
		return fmt.Errorf("%w; withdraw %s: %w", cause, pub.generation, asWriteError(err))
	}
	log.Warn("withdrew generation", "previous", pub.previous, "reason", cause)
	return cause
}

// prune removes old generations once the run has committed for good.
func (p *Pipeline) prune(ctx context.Context, log *slog.Logger) []string {
	if p.opts.Retain <= 0 {
		return nil
	}
	pruned, err := p.opts.Store.Prune(context.WithoutCancel(ctx), p.opts.Retain)
	if err != nil {
		// The new generation is already visible; pruning is housekeeping.
		log.Warn("failed to prune old generations", "error", err)
		return pruned
	}
	if len(pruned) > 0 {
		log.Info("pruned old generations", "count", len(pruned), "retain", p.opts.Retain)
	}
	return pruned
}

// asWriteError makes sure a store failure maps to storage.ErrWrite.
func asWriteError(err error) error {
	if errors.Is(err, storage.ErrWrite) {
		return err
	}
	return fmt.Errorf("%w: %w", storage.ErrWrite, err)
}
