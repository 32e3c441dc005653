package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rustler/internal/services"
)

// doctorCmd checks connectivity to every backend.
var doctorCmd = &cobra.Command{
	Use:   "doctor [target]",
	Short: "Check connectivity to blob storage, metadata store and queue",
	Long: `Pings each backend and reports its health. Target is one of all, blob,
metadata or queue (aliases s3, postgres, database and redis are accepted).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		target := ""
		if len(args) == 1 {
			target = args[0]
		}

		report, err := appInstance.HealthService.Check(cmd.Context(), target)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		names := make([]string, 0, len(report.Components))
		for name := range report.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := report.Components[name]
			if c.Status == services.HealthOK {
				fmt.Fprintf(out, "%s %s\n", color.GreenString("[OK]  "), name)
				continue
			}
			fmt.Fprintf(out, "%s %s: %s\n", color.RedString("[FAIL]"), name, c.Message)
		}

		if !report.Healthy() {
			return errors.New("one or more components are unhealthy")
		}
		fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
