package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"rustler/internal/models"
)

var statusJSON bool

// statusCmd shows one file's committed state.
var statusCmd = &cobra.Command{
	Use:   "status [file-id]",
	Short: "Show the processing status of a submitted file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		rec, err := appInstance.StatusService.GetStatus(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		renderRecord(out, rec)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the record as JSON")
}

func renderRecord(out io.Writer, rec *models.FileRecord) {
	table := tablewriter.NewWriter(out)
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	table.Append([]string{"ID", rec.ID})
	table.Append([]string{"Name", rec.OriginalName})
	table.Append([]string{"Status", colorStatus(rec.Status)})
	table.Append([]string{"Attempts", strconv.Itoa(rec.AttemptCount)})
	table.Append([]string{"Size", strconv.FormatInt(rec.SizeBytes, 10)})
	table.Append([]string{"Content-Type", rec.ContentType})
	if rec.Checksum != nil {
		table.Append([]string{"Checksum", *rec.Checksum})
	}
	if detail := rec.ErrorDetailString(); detail != "" {
		table.Append([]string{"Error", detail})
	}
	if len(rec.Result) > 0 {
		table.Append([]string{"Result", string(rec.Result)})
	}
	table.Append([]string{"Created", rec.CreatedAt.Local().Format(time.DateTime)})
	table.Append([]string{"Updated", rec.UpdatedAt.Local().Format(time.DateTime)})
	table.Render()
}

func colorStatus(status models.FileStatus) string {
	if os.Getenv("NO_COLOR") != "" {
		return string(status)
	}
	switch status {
	case models.StatusCompleted:
		return color.GreenString(string(status))
	case models.StatusFailed:
		return color.RedString(string(status))
	case models.StatusProcessing:
		return color.YellowString(string(status))
	default:
		return string(status)
	}
}
