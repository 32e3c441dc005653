package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rustler/internal/store/primary"
	"rustler/internal/store/sqlite"
)

// migrateCmd applies the metadata schema without starting anything else.
var migrateCmd = &cobra.Command{
	Use:         "migrate",
	Short:       "Apply metadata store migrations",
	Annotations: map[string]string{skipAppAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}

		switch cfg.Database.Driver {
		case "postgres":
			ps, err := primary.NewPrimaryStore(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("failed to connect to postgres: %w", err)
			}
			defer ps.Close()
			if err := ps.Migrate(); err != nil {
				return fmt.Errorf("failed to migrate postgres: %w", err)
			}
		case "sqlite":
			s, err := sqlite.Open(cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("failed to open sqlite: %w", err)
			}
			defer s.Close()
			if err := s.Migrate(); err != nil {
				return fmt.Errorf("failed to migrate sqlite: %w", err)
			}
		default:
			return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s schema is up to date\n", color.GreenString("Done."), cfg.Database.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
