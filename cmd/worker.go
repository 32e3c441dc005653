package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rustler/internal/app"
	"rustler/internal/maintenance"
	"rustler/internal/metrics"
)

var (
	workerConcurrency int
	workerNoSchedule  bool
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the file processing worker",
	Long: `Starts the processing pool that drains the file queue, together with the
maintenance server that runs scheduled reconcile sweeps.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Retrieve the application instance from context
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}
		if cmd.Flags().Changed("concurrency") {
			appInstance.Config.Worker.Concurrency = workerConcurrency
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Run the worker logic using the initialized app instance
		if err := runWorker(ctx, appInstance, !workerNoSchedule); err != nil {
			log.WithError(err).Error("Worker exited with error")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Override worker.concurrency")
	workerCmd.Flags().BoolVar(&workerNoSchedule, "no-schedule", false, "Do not register the periodic reconcile sweep")
}

// runWorker runs the processing pool, the maintenance server and (optionally)
// the reconcile scheduler until ctx is cancelled.
func runWorker(ctx context.Context, appInstance *app.App, schedule bool) error {
	cfg := appInstance.Config

	pool, err := appInstance.NewWorkerPool()
	if err != nil {
		return fmt.Errorf("failed to build worker pool: %w", err)
	}

	// --- Setup Asynq Server ---
	redisOpt, err := appInstance.RedisOptions().ConnOpt()
	if err != nil {
		return err
	}
	srv := maintenance.NewServer(redisOpt)

	// --- Register Job Handlers ---
	mux := asynq.NewServeMux()
	maintenance.RegisterHandlers(mux, appInstance.ReconcileService)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start maintenance server: %w", err)
	}
	defer srv.Shutdown()

	if schedule {
		scheduler, err := maintenance.NewScheduler(redisOpt, cfg.Reconcile.Interval)
		if err != nil {
			return err
		}
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start reconcile scheduler: %w", err)
		}
		defer scheduler.Shutdown()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})

	if cfg.Worker.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.Worker.MetricsAddr)
		g.Go(func() error {
			log.Infof("Serving worker metrics on http://%s/metrics", cfg.Worker.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return reportQueueDepth(gctx, appInstance)
	})

	log.Infof("Worker running (concurrency %d). Press Ctrl+C to stop.", cfg.Worker.Concurrency)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	fmt.Fprintln(os.Stderr, "Worker shutdown complete.")
	return err
}

// reportQueueDepth refreshes the queue depth gauges until ctx is done.
func reportQueueDepth(ctx context.Context, appInstance *app.App) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		stats, err := appInstance.Queue.Stats(ctx)
		if err == nil {
			metrics.SetQueueDepth(stats.Ready, stats.InFlight, stats.Dead)
		} else if ctx.Err() == nil {
			log.WithError(err).Warn("Failed to read queue depth")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
