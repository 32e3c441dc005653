package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rustler/internal/app"
	"rustler/internal/config"
	"rustler/internal/logging"
)

// skipAppAnnotation marks commands that build their own dependencies.
const skipAppAnnotation = "rustler/skip-app"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rustler",
	Short: "Rustler file ingestion pipeline",
	Long: `Rustler accepts file uploads, queues them for processing on a pool of
workers and reports each file's status until it completes or fails.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is given, print help.
		cmd.Help()
	},
	// PersistentPreRunE runs before any subcommand's RunE
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Don't run initialization for help command or potentially others
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		if cmd.HasParent() && cmd.Parent().Name() == "completion" {
			return nil
		}

		// Load configuration once
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		ctx := context.WithValue(cmd.Context(), configKey, cfg)
		if cmd.Annotations[skipAppAnnotation] == "" {
			// Initialize the app once
			appInstance, err := app.NewApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			// Store the app instance in the command's context
			ctx = context.WithValue(ctx, appKey, appInstance)
		}
		cmd.SetContext(ctx) // Update the command's context
		return nil
	},
}

func Execute() {
	if err := execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs the selected command and releases the app it built, whether
// or not the command succeeded.
func execute(ctx context.Context) error {
	cmd, err := rootCmd.ExecuteContextC(ctx)
	if cmd != nil && cmd.Context() != nil {
		if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
			err = errors.Join(err, appInstance.Close())
		}
	}
	return err
}

// Define a custom type for the context key to avoid collisions.
type contextKey string

const (
	appKey    contextKey = "app"
	configKey contextKey = "config"
)

// Helper function to retrieve the app instance from context
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		// This should not happen if PersistentPreRunE ran successfully
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

// GetConfigFromContext returns the loaded configuration.
func GetConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in context")
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
}
