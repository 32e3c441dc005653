package config

import (
	"errors"
	"fmt"
)

// Validate checks every section the process depends on. Optional features
// (S3, Kafka) are only checked when selected.
func (c *Config) Validate() error {
	// Database config
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite', got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	// Blob config
	switch c.Blob.Backend {
	case "local":
		if c.Blob.Local.Dir == "" {
			return errors.New("blob.local.dir is required when blob.backend is 'local'")
		}
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required when blob.backend is 's3'")
		}
		if c.Blob.S3.Region == "" {
			return errors.New("blob.s3.region is required when blob.backend is 's3'")
		}
		if (c.Blob.S3.AccessKeyID == "") != (c.Blob.S3.SecretAccessKey == "") {
			return errors.New("blob.s3.access_key_id and blob.s3.secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("blob.backend must be 'local' or 's3', got %q", c.Blob.Backend)
	}

	// Redis config
	if c.Redis.Address == "" && c.Redis.URL == "" {
		return errors.New("redis.address or redis.url is required")
	}

	// Queue config
	if c.Queue.Name == "" {
		return errors.New("queue.name is required")
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return errors.New("queue.visibility_timeout must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		return errors.New("queue.poll_interval must be positive")
	}
	if c.Queue.MaxDeliveries <= 0 {
		return errors.New("queue.max_deliveries must be a positive integer")
	}

	// Worker config
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	if c.Worker.MaxAttempts <= 0 {
		return errors.New("worker.max_attempts must be a positive integer")
	}
	if c.Queue.MaxDeliveries < c.Worker.MaxAttempts {
		return fmt.Errorf("queue.max_deliveries (%d) must be at least worker.max_attempts (%d)", c.Queue.MaxDeliveries, c.Worker.MaxAttempts)
	}
	if c.Worker.ReceiveTimeout <= 0 {
		return errors.New("worker.receive_timeout must be positive")
	}
	if c.Worker.HeartbeatInterval <= 0 || c.Worker.HeartbeatInterval >= c.Queue.VisibilityTimeout {
		return fmt.Errorf("worker.heartbeat_interval (%s) must be positive and shorter than queue.visibility_timeout (%s)", c.Worker.HeartbeatInterval, c.Queue.VisibilityTimeout)
	}
	if c.Worker.BackoffBase <= 0 || c.Worker.BackoffMax < c.Worker.BackoffBase {
		return errors.New("worker.backoff_base must be positive and not above worker.backoff_max")
	}
	if len(c.Worker.Processors) == 0 {
		return errors.New("worker.processors must name at least one processor")
	}

	// Ingest config
	if c.Ingest.MaxFileSize <= 0 {
		return errors.New("ingest.max_file_size must be positive")
	}

	// Reconcile config
	if c.Reconcile.Interval <= 0 {
		return errors.New("reconcile.interval must be positive")
	}
	if c.Reconcile.GracePeriod <= 0 {
		return errors.New("reconcile.grace_period must be positive")
	}
	if c.Reconcile.BatchSize <= 0 {
		return errors.New("reconcile.batch_size must be a positive integer")
	}

	// Notify config
	if len(c.Notify.Kafka.Brokers) > 0 && c.Notify.Kafka.Topic == "" {
		return errors.New("notify.kafka.topic is required when notify.kafka.brokers is set")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format)
	}

	return nil
}
