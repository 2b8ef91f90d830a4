/*
Package cli implements ledgerctl, the operator command line.

COMMANDS:
  ledgerctl jobs list
  ledgerctl jobs run <overdue|paid|low-stock|reminders>
  ledgerctl contracts recalc <contract-id>
  ledgerctl reminders preview

Every command builds the same components as the server (app.Build) and
calls the same Reconciler, Scheduler and Ledger methods. A job run from
here is recorded in job_runs with trigger "manual".
*/
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/installment-ledger/app"
	"github.com/warp/installment-ledger/config"
	"github.com/warp/installment-ledger/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath  string
	Format  string // "json" | "text"
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for ledgerctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the installment ledger",
		Long:  "Run reconciliation jobs, recalculate contracts and preview reminders against a ledger database.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr at debug level")

	cmd.AddCommand(NewJobsCommand(opts))
	cmd.AddCommand(NewContractsCommand(opts))
	cmd.AddCommand(NewRemindersCommand(opts))

	return cmd
}

// open loads configuration, applies flag overrides and builds the app.
func (o *RootOptions) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}

	log := zap.NewNop()
	if o.Verbose {
		log, err = logger.New(&logger.Config{Level: "debug", Format: "console", Output: "stderr"})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to initialize logger", err)
		}
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	return a, nil
}
