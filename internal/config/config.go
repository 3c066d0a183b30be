// Package config loads the screenvault configuration from a YAML file
// and SCREENVAULT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Provider ProviderConfig `mapstructure:"provider"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	BasePath      string        `mapstructure:"base_path"`
	LogRequests   bool          `mapstructure:"log_requests"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
}

// DatabaseConfig configures the Postgres metadata store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig configures the Redis cache and in-flight guard.
type CacheConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// StorageConfig configures the S3 blob store.
type StorageConfig struct {
	Region         string        `mapstructure:"region"`
	Bucket         string        `mapstructure:"bucket"`
	Endpoint       string        `mapstructure:"endpoint"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	UploadPartSize int64         `mapstructure:"upload_part_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SignedURLTTL   time.Duration `mapstructure:"signed_url_ttl"`
}

// QueueConfig configures the SQS enrichment job queue.
type QueueConfig struct {
	QueueURL          string        `mapstructure:"queue_url"`
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxMessages       int32         `mapstructure:"max_messages"`
}

// ProviderConfig selects and configures the analysis provider. The
// active provider is fixed at construction time; request paths never
// consult configuration.
type ProviderConfig struct {
	Active         string        `mapstructure:"active"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Dimensions     int           `mapstructure:"dimensions"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	OpenAIModel  string `mapstructure:"openai_model"`

	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`

	BedrockRegion string `mapstructure:"bedrock_region"`
	BedrockModel  string `mapstructure:"bedrock_model"`
}

// WorkerConfig configures the enrichment worker pool.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// Load reads configuration from the file named by SCREENVAULT_CONFIG_FILE
// (default configs/config.yaml) with environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("SCREENVAULT_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("SCREENVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine when environment variables
		// cover everything required; a malformed one is not.
		if _, statErr := os.Stat(configFile); statErr == nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)
	v.SetDefault("api.base_path", "/api/v1")
	v.SetDefault("api.log_requests", true)
	v.SetDefault("api.max_upload_size", int64(20<<20))

	// Empty defaults register the keys so environment-only values
	// survive Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.database", 0)
	v.SetDefault("cache.dial_timeout", 5*time.Second)
	v.SetDefault("cache.read_timeout", 3*time.Second)
	v.SetDefault("cache.write_timeout", 3*time.Second)
	v.SetDefault("cache.pool_size", 10)

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.upload_part_size", int64(5<<20))
	v.SetDefault("storage.concurrency", 3)
	v.SetDefault("storage.request_timeout", 30*time.Second)
	v.SetDefault("storage.signed_url_ttl", 7*24*time.Hour)

	v.SetDefault("queue.queue_url", "")
	v.SetDefault("queue.region", "us-east-1")
	v.SetDefault("queue.endpoint", "")
	v.SetDefault("queue.wait_time", 20*time.Second)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("queue.max_messages", 10)

	v.SetDefault("provider.active", "openai")
	v.SetDefault("provider.embedding_model", "text-embedding-3-small")
	v.SetDefault("provider.dimensions", 1536)
	v.SetDefault("provider.request_timeout", 60*time.Second)
	v.SetDefault("provider.openai_api_key", "")
	v.SetDefault("provider.openai_model", "gpt-4o-mini")
	v.SetDefault("provider.gemini_api_key", "")
	v.SetDefault("provider.gemini_model", "gemini-2.0-flash")
	v.SetDefault("provider.bedrock_region", "us-east-1")
	v.SetDefault("provider.bedrock_model", "anthropic.claude-3-haiku-20240307-v1:0")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.initial_backoff", 500*time.Millisecond)
	v.SetDefault("worker.max_backoff", 30*time.Second)
	v.SetDefault("worker.lock_ttl", 10*time.Minute)
	v.SetDefault("worker.reconcile_interval", 5*time.Minute)
}
