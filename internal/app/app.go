package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"rustler/internal/config"
	"rustler/internal/maintenance"
	"rustler/internal/notify"
	"rustler/internal/processing"
	"rustler/internal/queue"
	"rustler/internal/services"
	"rustler/internal/store"
	"rustler/internal/store/blob"
	"rustler/internal/store/primary"
	"rustler/internal/store/sqlite"
	"rustler/internal/worker"
)

type App struct {
	Config *config.Config

	// --- Backends ---
	Records  store.FileRecordStore
	Blobs    store.BlobStore
	Redis    redis.UniversalClient
	Queue    *queue.RedisQueue
	Notifier notify.Notifier

	// --- Processing ---
	Validator  *processing.Validator
	Processors *processing.Registry
	Processor  processing.Processor

	// --- Initialized Services ---
	IngestionService *services.IngestionService
	StatusService    *services.StatusService
	ReconcileService *services.ReconcileService
	HealthService    *services.HealthService
	Maintenance      *maintenance.Client
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := app.initMetadataStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initBlobStore(ctx); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initQueue(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initMaintenanceClient(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initNotifier()
	if err := app.initProcessing(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initServices()

	log.Debug("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initMetadataStore(ctx context.Context) error {
	cfg := a.Config.Database
	switch cfg.Driver {
	case "postgres":
		ps, err := primary.NewPrimaryStore(ctx, cfg.DSN)
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.Records = ps
		if cfg.Migrate {
			if err := ps.Migrate(); err != nil {
				ps.Close()
				return fmt.Errorf("migrate postgres store: %w", err)
			}
		}
	case "sqlite":
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		a.Records = s
		if cfg.Migrate {
			if err := s.Migrate(); err != nil {
				s.Close()
				return fmt.Errorf("migrate sqlite store: %w", err)
			}
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	log.WithField("driver", cfg.Driver).Debug("Metadata store ready")
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	cfg := a.Config.Blob
	switch cfg.Backend {
	case "local":
		ls, err := blob.NewLocalStore(cfg.Local.Dir)
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.Blobs = ls
	case "s3":
		s3Store, err := blob.NewS3Store(ctx, blob.S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("init s3 blob store: %w", err)
		}
		a.Blobs = s3Store
	default:
		return fmt.Errorf("unsupported blob backend %q", cfg.Backend)
	}
	log.WithField("backend", cfg.Backend).Debug("Blob store ready")
	return nil
}

func (a *App) initQueue() error {
	client, err := NewRedisClient(a.Config)
	if err != nil {
		return err
	}
	a.Redis = client
	a.Queue = queue.New(client, queue.Options{
		Name:              a.Config.Queue.Name,
		VisibilityTimeout: a.Config.Queue.VisibilityTimeout,
		PollInterval:      a.Config.Queue.PollInterval,
		MaxDeliveries:     a.Config.Queue.MaxDeliveries,
	})
	return nil
}

// NewRedisClient builds the shared Redis client. redis.url wins over the
// discrete address settings when set.
func NewRedisClient(cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	if cfg.Redis.Address == "" {
		return nil, errors.New("redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), nil
}

// RedisOptions returns the asynq view of the Redis settings.
func (a *App) RedisOptions() maintenance.RedisOptions {
	return maintenance.RedisOptions{
		URL:      a.Config.Redis.URL,
		Address:  a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

func (a *App) initMaintenanceClient() error {
	opt, err := a.RedisOptions().ConnOpt()
	if err != nil {
		return fmt.Errorf("init maintenance client: %w", err)
	}
	a.Maintenance = maintenance.NewClient(opt)
	return nil
}

func (a *App) initNotifier() {
	cfg := a.Config.Notify.Kafka
	if len(cfg.Brokers) == 0 {
		log.Debug("No Kafka brokers configured, file events are not published")
		a.Notifier = notify.NoopNotifier{}
		return
	}
	log.WithFields(log.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Debug("Publishing file events to Kafka")
	a.Notifier = notify.NewKafkaNotifier(cfg.Brokers, cfg.Topic)
}

func (a *App) initProcessing() error {
	a.Validator = processing.NewValidator()
	a.Processors = processing.NewRegistry(processing.Options{
		SummaryMaxLength: a.Config.Processing.SummaryMaxLength,
		Validator:        a.Validator,
	})
	chain, err := a.Processors.Build(a.Config.Worker.Processors)
	if err != nil {
		return fmt.Errorf("init processors: %w", err)
	}
	a.Processor = chain
	return nil
}

func (a *App) initServices() {
	cfg := a.Config
	a.IngestionService = services.NewIngestionService(services.IngestionServiceDeps{
		Blobs:        a.Blobs,
		Records:      a.Records,
		Queue:        a.Queue,
		Validator:    a.Validator,
		MaxFileSize:  cfg.Ingest.MaxFileSize,
		EnforceTypes: cfg.Ingest.EnforceTypes,
	})
	a.StatusService = services.NewStatusService(a.Records)
	a.ReconcileService = services.NewReconcileService(services.ReconcileServiceDeps{
		Records:     a.Records,
		Queue:       a.Queue,
		GracePeriod: cfg.Reconcile.GracePeriod,
		BatchSize:   cfg.Reconcile.BatchSize,
	})
	a.HealthService = services.NewHealthService(services.HealthServiceDeps{
		Blob:     a.Blobs,
		Metadata: a.Records,
		Queue:    a.Queue,
		Cache:    a.Redis,
		CacheTTL: cfg.Health.CacheTTL,
	})
}

// NewWorkerPool builds the processing pool from the worker settings.
func (a *App) NewWorkerPool() (*worker.Pool, error) {
	cfg := a.Config
	return worker.NewPool(worker.PoolDeps{
		Records:           a.Records,
		Blobs:             a.Blobs,
		Queue:             a.Queue,
		Processor:         a.Processor,
		Notifier:          a.Notifier,
		Concurrency:       cfg.Worker.Concurrency,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		ReceiveTimeout:    cfg.Worker.ReceiveTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		LeaseDuration:     cfg.Queue.VisibilityTimeout,
		Backoff:           worker.Backoff{Base: cfg.Worker.BackoffBase, Max: cfg.Worker.BackoffMax},
		NotifyTimeout:     cfg.Notify.Timeout,
	})
}

// Close releases every backend. Errors are joined.
func (a *App) Close() error {
	var errs []error
	if a.Maintenance != nil {
		errs = append(errs, a.Maintenance.Close())
	}
	if a.Notifier != nil {
		errs = append(errs, a.Notifier.Close())
	}
	if a.Queue != nil {
		// Closes the shared Redis client as well.
		errs = append(errs, a.Queue.Close())
	}
	if a.Records != nil {
		errs = append(errs, a.Records.Close())
	}
	return errors.Join(errs...)
}

func (a *App) cleanupPartialInit() {
	if err := a.Close(); err != nil {
		log.Printf("Error releasing partially initialized app: %v", err)
	}
}
