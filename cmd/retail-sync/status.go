package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/retail-sync/internal/config"
	"github.com/withObsrvr/retail-sync/internal/logging"
	"github.com/withObsrvr/retail-sync/internal/metadata"
	"github.com/withObsrvr/retail-sync/internal/pipeline"
	"github.com/withObsrvr/retail-sync/internal/source"
	"github.com/withObsrvr/retail-sync/internal/storage"
	"github.com/withObsrvr/retail-sync/internal/syncstate"
	"github.com/withObsrvr/retail-sync/internal/tables"
)

func statusCmd(flags *globalFlags) *cobra.Command {
	var (
		destination string
		verify      bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state and the published generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{ConfigFile: flags.configFile, EnvFile: flags.envFile})
			if err != nil {
				return &exitError{code: pipeline.ExitInternal, err: err}
			}
			if destination != "" {
				cfg.Destination = destination
			}
			if cfg.Destination == "" {
				return &exitError{code: pipeline.ExitInternal, err: fmt.Errorf("%w: destination is required", config.ErrInvalid)}
			}
			logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: "warn"})
			return runStatus(cmd.Context(), cmd.OutOrStdout(), cfg, verify)
		},
	}
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "artifact destination")
	cmd.Flags().BoolVar(&verify, "verify", false, "re-read every published file and check it against the manifest")
	return cmd
}

func runStatus(ctx context.Context, w io.Writer, cfg *config.Config, verify bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if dest, err := storage.CanonicalDestination(cfg.Destination); err == nil {
		cfg.Destination = dest
	}

	fmt.Fprintln(w, "Retail Sync Status")
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "  Source:      %s\n", valueOrDefault(source.Redact(cfg.Source.Locator), "not configured"))
	fmt.Fprintf(w, "  Destination: %s\n", cfg.Destination)

	// Sync state
	fmt.Fprintln(w, "\nSync state:")
	states, err := syncstate.NewManager(syncstate.Config{Enabled: true, Dir: cfg.State.Dir})
	if err != nil {
		fmt.Fprintf(w, "  Status:      unavailable (%s)\n", err)
	} else {
		st, err := states.Load(ctx, cfg.Destination)
		switch {
		case errors.Is(err, syncstate.ErrNoState):
			fmt.Fprintln(w, "  Status:      never run")
		case err != nil:
			fmt.Fprintf(w, "  Status:      unreadable (%s)\n", err)
		default:
			fmt.Fprintf(w, "  Fingerprint: %s\n", valueOrDefault(st.LastFingerprint, "-"))
			fmt.Fprintf(w, "  Last run:    %s\n", formatTime(st.LastRunAt))
			fmt.Fprintf(w, "  Last change: %s\n", formatTime(st.LastSuccessAt))
			fmt.Fprintf(w, "  Generation:  %s\n", valueOrDefault(st.LastGeneration, "-"))
		}
	}

	// Published generation, resolved once so a concurrent publish cannot
	// mix two generations into one report.
	fmt.Fprintln(w, "\nPublished:")
	store, err := storage.Open(ctx, cfg.Destination)
	if err != nil {
		fmt.Fprintf(w, "  Status:      unavailable (%s)\n", err)
	} else {
		defer store.Close()
		gen, err := store.Current(ctx)
		var m *storage.Manifest
		if err == nil {
			m, err = storage.ReadGenerationManifest(ctx, store, gen)
		}
		switch {
		case errors.Is(err, storage.ErrNoGeneration):
			fmt.Fprintln(w, "  Status:      nothing published yet")
		case err != nil:
			fmt.Fprintf(w, "  Status:      unreadable (%s)\n", err)
		default:
			fmt.Fprintf(w, "  Generation:  %s\n", gen)
			fmt.Fprintf(w, "  Location:    %s\n", store.URI(storage.GenerationKey(gen, "")))
			printManifest(w, m)
			if verify {
				if err := verifyGeneration(ctx, w, store, gen, m); err != nil {
					return &exitError{code: pipeline.ExitWrite, err: err}
				}
			}
		}
		if gens, err := store.Generations(ctx); err == nil {
			fmt.Fprintf(w, "  Retained:    %d generation(s)\n", len(gens))
		}
	}

	// Catalog
	if cfg.Catalog.PostgresDSN != "" {
		fmt.Fprintln(w, "\nCatalog:")
		cw, err := metadata.NewWriter(ctx, cfg.Catalog)
		if err != nil {
			fmt.Fprintf(w, "  Status:      FAILED (%s)\n", err)
			return nil // report, don't fail
		}
		defer cw.Close()
		rec, err := cw.LastRun(ctx, cfg.Destination)
		switch {
		case errors.Is(err, metadata.ErrNoRuns):
			fmt.Fprintln(w, "  Last run:    none recorded")
		case err != nil:
			fmt.Fprintf(w, "  Last run:    error (%s)\n", err)
		default:
			fmt.Fprintf(w, "  Last run:    %s (%s, %d transactions, forced=%t)\n",
				rec.Generation, formatTime(rec.FinishedAt), rec.Transactions, rec.Forced)
		}
	}
	return nil
}

func printManifest(w io.Writer, m *storage.Manifest) {
	fmt.Fprintf(w, "  Generated:   %s\n", formatTime(m.GeneratedAt))
	fmt.Fprintf(w, "  Producer:    %s %s\n", m.Producer.Name, m.Producer.Version)
	if m.DateRange.Start != "" {
		fmt.Fprintf(w, "  Data range:  %s to %s\n", m.DateRange.Start, m.DateRange.End)
	}
	fmt.Fprintf(w, "  Rejected:    %d transaction(s), %d check-in(s)\n", m.Rejections.Transactions, m.Rejections.Checkins)
	fmt.Fprintln(w, "  Tables:")
	for _, name := range []string{
		"hourly_sales", "daily_sales", "time_of_day_sales", "vendor_performance",
		"customer_performance", "location_performance", "kpis", "transactions_enhanced",
	} {
		if n, ok := m.RowCounts[name]; ok {
			fmt.Fprintf(w, "    %-22s %d rows\n", name, n)
		}
	}
}

// verifyGeneration re-reads every file the manifest of gen lists and checks
// its checksum.
func verifyGeneration(ctx context.Context, w io.Writer, store storage.AtomicStore, gen string, m *storage.Manifest) error {
	names := make([]string, 0, len(m.Tables))
	for name := range m.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		data, err := store.ReadGeneration(ctx, gen, name)
		if err == nil {
			err = tables.VerifyChecksum(name, data, m.Tables[name].Checksum)
		}
		if err != nil {
			fmt.Fprintf(w, "    %-30s FAILED\n", name)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "    %-30s ok\n", name)
	}
	return errors.Join(errs...)
}

func normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize URL",
		Short: "Print the direct-download form of a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := source.NormalizeLocator(args[0])
			if err != nil {
				return &exitError{code: pipeline.ExitFetch, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", pipeline.ProducerName, pipeline.Version, pipeline.GitSHA)
		},
	}
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
