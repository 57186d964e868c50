// Package pipeline runs one sync: fetch, detect, parse, aggregate, validate,
// encode and publish. It also owns the run lock, the scheduler and the
// mapping of failures to process exit codes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/retail-sync/internal/aggregate"
	"github.com/withObsrvr/retail-sync/internal/change"
	"github.com/withObsrvr/retail-sync/internal/logging"
	"github.com/withObsrvr/retail-sync/internal/metadata"
	"github.com/withObsrvr/retail-sync/internal/metrics"
	"github.com/withObsrvr/retail-sync/internal/notify"
	"github.com/withObsrvr/retail-sync/internal/records"
	"github.com/withObsrvr/retail-sync/internal/source"
	"github.com/withObsrvr/retail-sync/internal/storage"
	"github.com/withObsrvr/retail-sync/internal/syncstate"
	"github.com/withObsrvr/retail-sync/internal/tables"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ProducerName identifies retail-sync in manifests, catalog rows and events.
const ProducerName = "retail-sync"

var (
	// ErrCancelled is returned when the run context ends before publish.
	ErrCancelled = errors.New("run cancelled")

	// ErrCatalog is returned when recording the run fails in strict mode.
	ErrCatalog = errors.New("catalog record failed")

	// ErrNotify is returned when the publication event fails in strict mode.
	ErrNotify = errors.New("publication event failed")
)

// Outcome is the result class of a run.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
	OutcomeBusy      Outcome = "busy"
	OutcomeFailed    Outcome = "failed"
)

// Request carries the inputs of one run.
type Request struct {
	Locator     string
	Credentials source.Credentials
	Destination string
	Force       bool // skip change detection and republish
}

// Result describes a finished run.
type Result struct {
	Outcome     Outcome
	RunID       string
	Fingerprint string
	Generation  string // empty unless a generation was published and kept
	StorageURI  string
	Files       []tables.File
	Manifest    *storage.Manifest
	Validation  aggregate.ValidationResult
	Rejections  records.Rejections
	Event       *notify.Event
	Pruned      []string
	Duration    time.Duration
}

// Options wires a pipeline to its collaborators.
type Options struct {
	Fetcher source.Fetcher
	Store   storage.AtomicStore

	Location *time.Location       // zone for timestamps without an offset; UTC when nil
	Buckets  *records.TimeBuckets // default partition when nil
	Encode   tables.EncodeConfig
	Retain   int // finalized generations to keep; 0 keeps all

	Catalog       metadata.Writer // optional
	CatalogStrict bool
	Notifier      notify.Emitter // optional
	NotifyStrict  bool

	Now func() time.Time
}

// Pipeline executes runs against one destination store.
type Pipeline struct {
	opts    Options
	decoder *source.Decoder
	now     func() time.Time
}

// New validates opts and creates a pipeline. Close releases the decoder.
func New(opts Options) (*Pipeline, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Buckets == nil {
		opts.Buckets = records.DefaultTimeBuckets()
	}
	if len(opts.Encode.Formats) == 0 {
		opts.Encode = tables.DefaultEncodeConfig()
	}
	if opts.Catalog == nil {
		opts.Catalog = metadata.NoopWriter{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopEmitter{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	dec, err := source.NewDecoder()
	if err != nil {
		return nil, err
	}
	return &Pipeline{opts: opts, decoder: dec, now: now}, nil
}

// Close releases pipeline resources. The store is owned by the caller.
func (p *Pipeline) Close() {
	p.decoder.Close()
}

// Run executes one sync. prior is the state left by the last run for the
// destination; the returned state is what the caller should persist. On
// error the returned state equals prior and the published generation is
// whatever it was before.
func (p *Pipeline) Run(ctx context.Context, prior syncstate.State, req Request) (*Result, syncstate.State, error) {
	started := p.now()
	runID := logging.RunID(ctx)
	if runID == "" {
		runID = logging.GenerateRunID()
		ctx = logging.WithRunID(ctx, runID)
	}
	log := logging.RunLogger(runID, req.Destination, req.Force)
	res := &Result{Outcome: OutcomeFailed, RunID: runID}
	defer func() { res.Duration = p.now().Sub(started) }()

	fail := func(err error) (*Result, syncstate.State, error) {
		return res, prior, err
	}

	// Fetch
	if err := checkCancelled(ctx, "fetch"); err != nil {
		return fail(err)
	}
	done := p.stage("fetch")
	payload, err := p.opts.Fetcher.Fetch(ctx, req.Locator, req.Credentials)
	done()
	if err != nil {
		return fail(fmt.Errorf("fetch: %w", err))
	}
	if m := metrics.Get(); m != nil {
		m.SetPayloadBytes(payload.Size())
	}

	// Detect
	decision := change.Detect(payload.Data, prior.LastFingerprint)
	res.Fingerprint = decision.Fingerprint
	next := prior
	next.Destination = req.Destination
	next.SourceLocator = source.Redact(req.Locator)
	next.LastRunAt = p.now().UTC()

	if !decision.Changed && !req.Force {
		log.Info("source unchanged", "fingerprint", decision.Fingerprint, "bytes", payload.Size())
		res.Outcome = OutcomeUnchanged
		return res, next, nil
	}
	if !decision.Changed {
		log.Info("source unchanged, republishing because of force", "fingerprint", decision.Fingerprint)
	}

	// Parse
	if err := checkCancelled(ctx, "parse"); err != nil {
		return fail(err)
	}
	done = p.stage("parse")
	doc, err := p.decoder.Decode(payload.Data)
	if err != nil {
		done()
		return fail(fmt.Errorf("decode payload: %w", err))
	}
	parsed, err := records.NewParser(p.opts.Location).Parse(doc)
	done()
	if err != nil {
		return fail(fmt.Errorf("parse: %w", err))
	}
	res.Rejections = parsed.Rejections
	if m := metrics.Get(); m != nil {
		m.SetRows("transactions", len(parsed.Transactions), parsed.Rejections.Transactions)
		m.SetRows("checkins", len(parsed.Checkins), parsed.Rejections.Checkins)
	}
	for _, k := range parsed.Rejections.ReasonKeys() {
		log.Debug("rejected rows", "reason", k, "count", parsed.Rejections.Reasons[k])
	}

	// Aggregate
	if err := checkCancelled(ctx, "aggregate"); err != nil {
		return fail(err)
	}
	done = p.stage("aggregate")
	derived := records.DeriveAll(parsed.Transactions, p.opts.Buckets)
	set := aggregate.Compute(derived, parsed.Checkins, p.opts.Buckets)
	done()
	if set.KPIs.DateRange.IsZero() {
		log.Warn("no transactions accepted, publishing empty views",
			"rejected", parsed.Rejections.Transactions)
	}

	// Validate
	res.Validation = aggregate.Validate(set)
	for _, w := range res.Validation.Warnings {
		log.Warn("aggregate check warning", "warning", w)
	}
	if err := res.Validation.Err(); err != nil {
		return fail(err)
	}

	// Encode
	if err := checkCancelled(ctx, "encode"); err != nil {
		return fail(err)
	}
	done = p.stage("encode")
	files, err := tables.Encode(set.Tables(), p.opts.Encode)
	done()
	if err != nil {
		return fail(fmt.Errorf("encode tables: %w", err))
	}
	res.Files = files
	manifest := p.buildManifest(decision.Fingerprint, set, parsed, files)
	res.Manifest = manifest

	// Publish
	done = p.stage("publish")
	pub, err := p.publish(ctx, log, files, manifest)
	done()
	if err != nil {
		return fail(err)
	}
	res.Generation = pub.generation
	res.StorageURI = pub.uri
	log.Info("published generation",
		"generation", pub.generation,
		"uri", pub.uri,
		"files", len(files),
		"bytes", pub.bytes,
	)

	// Record and announce. A strict failure withdraws the generation.
	err = p.record(ctx, log, req, res, set, parsed, pub, started)
	if err == nil {
		err = p.announce(ctx, log, req, res, pub)
	}
	if err != nil {
		res.Generation, res.StorageURI = "", ""
		return fail(p.withdraw(ctx, log, pub, err))
	}
	res.Pruned = p.prune(ctx, log)

	finished := p.now().UTC()
	next.LastFingerprint = decision.Fingerprint
	next.LastSuccessAt = finished
	next.LastGeneration = pub.generation
	next.LastPublishedAt = finished
	res.Outcome = OutcomeUpdated
	return res, next, nil
}

// buildManifest describes the files of a generation. Everything except
// GeneratedAt is a function of the input.
func (p *Pipeline) buildManifest(fingerprint string, set *aggregate.Set, parsed *records.Result, files []tables.File) *storage.Manifest {
	counts := set.RowCounts()
	counts["source_transactions"] = int64(len(parsed.Transactions))
	counts["source_checkins"] = int64(len(parsed.Checkins))

	infos := make(map[string]storage.TableInfo, len(files))
	for _, f := range files {
		infos[f.Name] = storage.TableInfo{
			Table:    f.Table,
			Format:   string(f.Format),
			Checksum: f.Checksum,
			RowCount: f.RowCount,
			ByteSize: f.ByteSize(),
		}
	}

	return &storage.Manifest{
		GeneratedAt:       p.now().UTC(),
		SourceFingerprint: fingerprint,
		RowCounts:         counts,
		DateRange:         storage.NewDateRange(set.KPIs.DateRange.Start, set.KPIs.DateRange.End),
		Rejections:        parsed.Rejections,
		SchemaVersion:     tables.SchemaVersion,
		Tables:            infos,
		Producer: storage.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
	}
}

// record writes the run to the catalog.
func (p *Pipeline) record(ctx context.Context, log *slog.Logger, req Request, res *Result, set *aggregate.Set, parsed *records.Result, pub *published, started time.Time) error {
	rec := metadata.RunRecord{
		RunID:             res.RunID,
		Destination:       req.Destination,
		Generation:        pub.generation,
		StorageURI:        pub.uri,
		SourceFingerprint: res.Fingerprint,
		ManifestChecksum:  pub.manifestChecksum,
		Transactions:      set.KPIs.TotalTransactions,
		Checkins:          int64(len(parsed.Checkins)),
		Rejected:          int64(parsed.Rejections.Total()),
		Files:             int64(len(res.Files)),
		ByteSize:          pub.bytes,
		ValidationPassed:  res.Validation.Passed,
		ProducerVersion:   fmt.Sprintf("%s@%s", ProducerName, Version),
		ProducerGitSHA:    GitSHA,
		Forced:            req.Force,
		StartedAt:         started.UTC(),
		FinishedAt:        p.now().UTC(),
	}
	if len(res.Validation.Warnings) > 0 {
		rec.ValidationMessage = res.Validation.Warnings[0]
	}

	if err := p.opts.Catalog.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncCatalogErrors()
		}
		if p.opts.CatalogStrict {
			return fmt.Errorf("%w (strict mode): %w", ErrCatalog, err)
		}
		log.Warn("failed to record run in catalog", "error", err)
	}
	return nil
}

// announce emits the publication event. It must follow the catalog write
// because the event references the immutable, published generation.
func (p *Pipeline) announce(ctx context.Context, log *slog.Logger, req Request, res *Result, pub *published) error {
	infos := make(map[string]notify.TableInfo, len(res.Files))
	for _, f := range res.Files {
		infos[f.Name] = notify.TableInfo{
			Checksum: f.Checksum,
			RowCount: f.RowCount,
			ByteSize: f.ByteSize(),
		}
	}

	evt, err := p.opts.Notifier.Emit(context.WithoutCancel(ctx), notify.Publication{
		Destination:       req.Destination,
		Generation:        pub.generation,
		StorageURI:        pub.uri,
		SourceFingerprint: res.Fingerprint,
		Tables:            infos,
		Producer: notify.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
	})
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncNotifyErrors()
		}
		if p.opts.NotifyStrict {
			return fmt.Errorf("%w (strict mode): %w", ErrNotify, err)
		}
		log.Warn("failed to emit publication event", "error", err)
		return nil
	}
	res.Event = evt
	return nil
}

// stage starts timing a stage; call the returned func when it ends.
func (p *Pipeline) stage(name string) func() {
	start := time.Now()
	return func() {
		if m := metrics.Get(); m != nil {
			m.ObserveStage(name, time.Since(start).Seconds())
		}
	}
}

func checkCancelled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s: %w", ErrCancelled, stage, err)
	}
	return nil
}
