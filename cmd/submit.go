package cmd

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rustler/internal/fileingest"
	"rustler/internal/models"
	"rustler/internal/services"
)

var (
	submitRecursive   bool
	submitExtensions  []string
	submitContentType string
)

// submitCmd uploads local files through the ingestion service.
var submitCmd = &cobra.Command{
	Use:   "submit [path...]",
	Short: "Submit local files for processing",
	Long: `Stores each file, records it as pending and queues it for the workers.
Directories are expanded to the files they contain (use --recursive to descend).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to get app instance: %w", err)
		}
		out := cmd.OutOrStdout()

		var files []fileingest.FileMeta
		for _, arg := range args {
			found, err := fileingest.Discover(ctx, arg, fileingest.DiscoverOptions{
				Recursive:  submitRecursive,
				Extensions: submitExtensions,
			})
			if err != nil {
				return fmt.Errorf("failed to discover files under %s: %w", arg, err)
			}
			files = append(files, found...)
		}
		if len(files) == 0 {
			fmt.Fprintln(out, "No files found.")
			return nil
		}

		var successCount, errorCount int
		for _, f := range files {
			data, err := os.ReadFile(f.Path)
			if err != nil {
				errorCount++
				fmt.Fprintf(out, "  - %s %s: %v\n", color.RedString("ERROR"), f.Path, err)
				continue
			}
			contentType := submitContentType
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(f.Name))
			}

			rec, err := appInstance.IngestionService.Submit(ctx, services.SubmitParams{
				Data:         data,
				OriginalName: f.Name,
				ContentType:  contentType,
			})
			switch {
			case err == nil:
				successCount++
				fmt.Fprintf(out, "  - %s %s ID:%s\n", color.GreenString("Queued"), f.Path, rec.ID)
			case errors.Is(err, models.ErrQueue):
				// Stored but not queued; the reconcile sweep picks it up.
				successCount++
				fmt.Fprintf(out, "  - %s %s: %v\n", color.YellowString("Stored"), f.Path, err)
			default:
				errorCount++
				fmt.Fprintf(out, "  - %s %s: %v\n", color.RedString("ERROR"), f.Path, err)
			}
		}

		fmt.Fprintf(out, "\nSubmitted %d files: %d accepted, %d failed\n", len(files), successCount, errorCount)
		if errorCount > 0 {
			return fmt.Errorf("%d of %d files could not be submitted", errorCount, len(files))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().BoolVarP(&submitRecursive, "recursive", "r", false, "Descend into subdirectories")
	submitCmd.Flags().StringSliceVar(&submitExtensions, "ext", nil, "Only submit files with these extensions (e.g. --ext pdf,txt)")
	submitCmd.Flags().StringVar(&submitContentType, "content-type", "", "Content type to record (default: guessed from the extension)")
}
