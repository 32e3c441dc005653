package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reconcileAsync bool

// reconcileCmd re-enqueues stalled files.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-enqueue files whose processing stalled",
	Long: `Runs one reconciliation sweep: pending files that were never queued (or
whose task was lost) and processing files whose worker lease expired are
queued again. With --async the sweep is handed to a running worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if reconcileAsync {
			queued, err := appInstance.Maintenance.EnqueueReconcile(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to schedule reconcile: %w", err)
			}
			if !queued {
				fmt.Fprintln(out, color.YellowString("A reconcile sweep is already queued."))
				return nil
			}
			fmt.Fprintln(out, color.GreenString("Reconcile sweep queued for the worker."))
			return nil
		}

		result, err := appInstance.ReconcileService.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("reconcile sweep failed: %w", err)
		}
		fmt.Fprintf(out, "Scanned %d, requeued %d, skipped %d, errors %d\n",
			result.Scanned, result.Requeued, result.Skipped, result.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&reconcileAsync, "async", false, "Queue the sweep for a running worker instead of running it here")
}
