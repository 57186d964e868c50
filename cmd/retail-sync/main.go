package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/retail-sync/internal/pipeline"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
	logFormat  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, "error:", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(pipeline.ExitInternal)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "retail-sync",
		Short:         "Sync a retail export into published sales tables",
		Version:       fmt.Sprintf("%s (%s)", pipeline.Version, pipeline.GitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "YAML configuration file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file; ignored when missing")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format (json, text)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd(flags))
	rootCmd.AddCommand(daemonCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(normalizeCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}
