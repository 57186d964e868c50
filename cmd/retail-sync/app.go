package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/retail-sync/internal/config"
	"github.com/withObsrvr/retail-sync/internal/logging"
	"github.com/withObsrvr/retail-sync/internal/metadata"
	"github.com/withObsrvr/retail-sync/internal/notify"
	"github.com/withObsrvr/retail-sync/internal/pipeline"
	"github.com/withObsrvr/retail-sync/internal/source"
	"github.com/withObsrvr/retail-sync/internal/syncstate"
)

// loadConfig reads configuration, applies the command-line overrides,
// sets up logging and validates.
func loadConfig(flags *globalFlags, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: flags.configFile,
		EnvFile:    flags.envFile,
	})
	if err != nil {
		return nil, &exitError{code: pipeline.ExitInternal, err: err}
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if override != nil {
		override(cfg)
	}

	logging.Setup(cfg.Logging.Logging())
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: pipeline.ExitInternal, err: err}
	}
	slog.Info("configuration loaded", "config", cfg)
	return cfg, nil
}

// app holds everything a run needs, built from configuration.
type app struct {
	cfg     *config.Config
	runner  *pipeline.Runner
	req     pipeline.Request
	states  syncstate.Manager
	catalog metadata.Writer
	emitter notify.Emitter
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %w", config.ErrInvalid, err)
	}
	buckets, err := cfg.Buckets()
	if err != nil {
		return nil, fmt.Errorf("%w: time buckets: %w", config.ErrInvalid, err)
	}
	slog.Debug("time buckets", "names", buckets.Names(), "timezone", loc.String())
	encode, err := cfg.EncodeConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: artifacts: %w", config.ErrInvalid, err)
	}

	creds, err := source.ResolveCredentials(ctx, source.NewEnvFileProvider(), cfg.Source.Credentials)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	states, err := syncstate.NewManager(syncstate.Config{Enabled: true, Dir: cfg.State.Dir})
	if err != nil {
		return nil, fmt.Errorf("create state manager: %w", err)
	}

	catalog, err := metadata.NewWriter(ctx, cfg.Catalog)
	if err != nil {
		if cfg.Catalog.Strict {
			return nil, fmt.Errorf("%w: %w", pipeline.ErrCatalog, err)
		}
		slog.Warn("catalog unavailable, runs will not be recorded", "error", err)
		catalog = metadata.NoopWriter{}
	}

	emitter, err := notify.NewEmitter(cfg.Notify)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		LockDir: cfg.LockDir(),
		States:  states,
		Pipeline: pipeline.Options{
			Fetcher:       source.NewClient(cfg.SourceClientConfig()),
			Location:      loc,
			Buckets:       buckets,
			Encode:        encode,
			Retain:        cfg.Artifacts.Retain,
			Catalog:       catalog,
			CatalogStrict: cfg.Catalog.Strict,
			Notifier:      emitter,
			NotifyStrict:  cfg.Notify.Strict,
		},
	})

	return &app{
		cfg:    cfg,
		runner: runner,
		req: pipeline.Request{
			Locator:     cfg.Source.Locator,
			Credentials: creds,
			Destination: cfg.Destination,
			Force:       cfg.ForceRefresh,
		},
		states:  states,
		catalog: catalog,
		emitter: emitter,
	}, nil
}

func (a *app) Close() {
	if err := a.emitter.Close(); err != nil {
		slog.Warn("failed to close notifier", "error", err)
	}
	if err := a.catalog.Close(); err != nil {
		slog.Warn("failed to close catalog", "error", err)
	}
}

// asExit converts a run result into the command's exit status.
func asExit(res *pipeline.Result, err error) error {
	outcome := pipeline.OutcomeFailed
	if res != nil {
		outcome = res.Outcome
	}
	code := pipeline.ExitCode(outcome, err)
	if code == pipeline.ExitUnchanged {
		return nil
	}
	if err == nil {
		return &exitError{code: code}
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee
	}
	return &exitError{code: code, err: err}
}
