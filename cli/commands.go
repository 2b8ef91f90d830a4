package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/installment-ledger/reconcile"
)

// =============================================================================
// JOBS
// =============================================================================

var jobNames = []string{reconcile.JobOverdue, reconcile.JobPaid, reconcile.JobLowStock, reconcile.JobReminders}

// NewJobsCommand creates the jobs command group.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List or run reconciliation jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered jobs and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			jobs := a.Scheduler.Jobs()
			return emit(cmd.OutOrStdout(), rootOpts.Format, jobs, nil, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "JOB\tSCHEDULE")
				for _, j := range jobs {
					fmt.Fprintf(tw, "%s\t%s\n", j.Name, j.Schedule)
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "run <" + strings.Join(jobNames, "|") + ">",
		Short:     "Run a job now",
		Long:      "Run a reconciliation job once, through the same path as its timer. The run is recorded in the job history.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: jobNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, runErr := a.Scheduler.RunNow(cmd.Context(), args[0])
			if err := emit(cmd.OutOrStdout(), rootOpts.Format, run, runErr, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "job:\t%s\n", run.Job)
				fmt.Fprintf(tw, "status:\t%s\n", run.Status)
				fmt.Fprintf(tw, "affected:\t%d\n", run.Affected)
			}); err != nil {
				return err
			}
			if runErr != nil {
				return WrapExitError(ExitFailure, "job "+args[0]+" failed", runErr)
			}
			return nil
		},
	})

	return cmd
}

// =============================================================================
// CONTRACTS
// =============================================================================

// NewContractsCommand creates the contracts command group.
func NewContractsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Inspect and repair contracts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recalc <contract-id>",
		Short: "Re-derive every status of a contract now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if _, err := a.Ledger.RecalculateContract(ctx, args[0]); err != nil {
				return WrapExitError(ExitCommandError, "recalculation failed", err)
			}
			c, err := a.Ledger.Contract(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load contract", err)
			}

			return emit(cmd.OutOrStdout(), rootOpts.Format, c, nil, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "contract:\t%s\n", c.ID)
				fmt.Fprintf(tw, "status:\t%s\n", c.Status)
				fmt.Fprintf(tw, "total:\t%s\n", reconcile.FormatCents(c.TotalCents))
				fmt.Fprintln(tw, "\nSEQ\tDUE\tAMOUNT\tPAID\tSTATUS")
				for _, i := range c.Installments {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i.Seq, i.DueDate.Format("2006-01-02"),
						reconcile.FormatCents(i.AmountCents), reconcile.FormatCents(i.PaidCents), i.Status)
				}
			})
		},
	})

	return cmd
}

// =============================================================================
// REMINDERS
// =============================================================================

// NewRemindersCommand creates the reminders command group.
func NewRemindersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect reminder candidates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Show what the reminder job would send now, without sending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Reconciler.PreviewReminders(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "preview failed", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, p, nil, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "overdue:\t%d candidates, %d eligible\n", p.Overdue.Candidates, p.Overdue.Eligible)
				fmt.Fprintf(tw, "upcoming:\t%d candidates, %d eligible (next %d days)\n", p.Upcoming.Candidates, p.Upcoming.Eligible, p.DaysBefore)
				fmt.Fprintf(tw, "resend window:\t%s\n", p.Window)
				for _, c := range append(p.Overdue.Sample, p.Upcoming.Sample...) {
					fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Kind, c.InstallmentID, c.Message)
				}
			})
		},
	})

	return cmd
}
