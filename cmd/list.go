package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rustler/internal/clix"
	"rustler/internal/services"
)

var (
	listLimit  int
	listOffset int
	listStatus string
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List submitted files",
	Long: `Displays submitted files, newest first.
Supports pagination and filtering by status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Use centralized helpers for pagination and status filters
		pagination, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}
		statuses, err := clix.ParseStatuses(cmd.Flags())
		if err != nil {
			return err
		}

		log.Debugf("Executing list command: limit=%d, offset=%d, statuses=%v",
			pagination.Limit, pagination.Offset, statuses)

		// Get the initialized app instance from context
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get app from context: %w", err)
		}

		results, err := appInstance.StatusService.List(cmd.Context(), services.ListParams{
			Limit:    pagination.Limit,
			Offset:   pagination.Offset,
			Statuses: statuses,
		})
		if err != nil {
			return fmt.Errorf("failed to list files: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No files found.")
			return nil
		}

		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"ID", "Name", "Status", "Attempts", "Size", "Updated"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, rec := range results {
			table.Append([]string{
				rec.ID,
				rec.OriginalName,
				colorStatus(rec.Status),
				strconv.Itoa(rec.AttemptCount),
				strconv.FormatInt(rec.SizeBytes, 10),
				rec.UpdatedAt.Local().Format(time.DateTime),
			})
		}
		table.Render()
		fmt.Fprintf(out, "Displayed %d files.\n", len(results))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	// Add flags for pagination and filtering
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", services.DefaultListLimit, "Number of files to display per page")
	listCmd.Flags().IntVarP(&listOffset, "offset", "o", 0, "Number of files to skip (for pagination)")
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Comma-separated statuses to filter by (pending, processing, completed, failed)")
}
