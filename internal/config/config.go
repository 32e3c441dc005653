package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Driver  string `mapstructure:"driver"` // "postgres" or "sqlite"
		DSN     string `mapstructure:"dsn"`
		Migrate bool   `mapstructure:"migrate"`
	} `mapstructure:"database"`

	Blob struct {
		Backend string `mapstructure:"backend"` // "local" or "s3"
		Local   struct {
			Dir string `mapstructure:"dir"`
		} `mapstructure:"local"`
		S3 struct {
			Bucket          string `mapstructure:"bucket"`
			Region          string `mapstructure:"region"`
			Endpoint        string `mapstructure:"endpoint"` // MinIO or other S3-compatible endpoint
			AccessKeyID     string `mapstructure:"access_key_id"`
			SecretAccessKey string `mapstructure:"secret_access_key"`
			UsePathStyle    bool   `mapstructure:"use_path_style"`
		} `mapstructure:"s3"`
	} `mapstructure:"blob"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		URL      string `mapstructure:"url"` // takes precedence over address/password/db when set
	} `mapstructure:"redis"`

	Queue struct {
		Name              string        `mapstructure:"name"`
		VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
		PollInterval      time.Duration `mapstructure:"poll_interval"`
		MaxDeliveries     int           `mapstructure:"max_deliveries"`
	} `mapstructure:"queue"`

	Worker struct {
		Concurrency       int           `mapstructure:"concurrency"`
		MaxAttempts       int           `mapstructure:"max_attempts"`
		ReceiveTimeout    time.Duration `mapstructure:"receive_timeout"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		BackoffBase       time.Duration `mapstructure:"backoff_base"`
		BackoffMax        time.Duration `mapstructure:"backoff_max"`
		Processors        []string      `mapstructure:"processors"`
		MetricsAddr       string        `mapstructure:"metrics_addr"`
	} `mapstructure:"worker"`

	Ingest struct {
		MaxFileSize  int64 `mapstructure:"max_file_size"`
		EnforceTypes bool  `mapstructure:"enforce_types"`
	} `mapstructure:"ingest"`

	Processing struct {
		SummaryMaxLength int `mapstructure:"summary_max_length"`
	} `mapstructure:"processing"`

	Reconcile struct {
		Interval    time.Duration `mapstructure:"interval"`
		GracePeriod time.Duration `mapstructure:"grace_period"`
		BatchSize   int           `mapstructure:"batch_size"`
	} `mapstructure:"reconcile"`

	Notify struct {
		Kafka struct {
			Brokers []string `mapstructure:"brokers"`
			Topic   string   `mapstructure:"topic"`
		} `mapstructure:"kafka"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"notify"`

	Server struct {
		Addr string `mapstructure:"addr"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	Health struct {
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"health"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`
}

// setDefaults registers every default on v. Values mirror config.example.yaml.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.migrate", true)

	v.SetDefault("blob.backend", "local")
	v.SetDefault("blob.local.dir", "./data/blobs")
	v.SetDefault("blob.s3.region", "us-east-1")

	v.SetDefault("redis.address", "localhost:6379")

	v.SetDefault("queue.name", "rustler:files")
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("queue.poll_interval", 250*time.Millisecond)
	v.SetDefault("queue.max_deliveries", 10)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.receive_timeout", 5*time.Second)
	v.SetDefault("worker.heartbeat_interval", time.Minute)
	v.SetDefault("worker.backoff_base", 2*time.Second)
	v.SetDefault("worker.backoff_max", time.Minute)
	v.SetDefault("worker.processors", []string{"validate", "checksum"})

	v.SetDefault("ingest.max_file_size", int64(100*1024*1024)) // 100 MB

	v.SetDefault("processing.summary_max_length", 256)

	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.grace_period", 10*time.Minute)
	v.SetDefault("reconcile.batch_size", 100)

	v.SetDefault("notify.kafka.topic", "rustler.file-events")
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("server.addr", "localhost")
	v.SetDefault("server.port", "8080")

	v.SetDefault("health.cache_ttl", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads config.yaml from the working directory (or path, when
// non-empty), layers RUSTLER_* environment overrides on top and returns the
// unmarshalled result. A missing config file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// --- Environment Variable Binding ---
	v.SetEnvPrefix("RUSTLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed variables understood by the deployment tooling.
	bindings := map[string]string{
		"database.dsn":              "DATABASE_URL",
		"redis.url":                 "REDIS_URL",
		"blob.s3.bucket":            "S3_BUCKET_NAME",
		"blob.s3.region":            "AWS_REGION",
		"blob.s3.access_key_id":     "AWS_ACCESS_KEY_ID",
		"blob.s3.secret_access_key": "AWS_SECRET_ACCESS_KEY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "RUSTLER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ListenAddress joins the server address and port.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Addr, c.Server.Port)
}
