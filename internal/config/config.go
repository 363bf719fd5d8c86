// Package config provides configuration management for the keyword research service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "KWRESEARCH"

// Config holds all configuration for the keyword research service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Persistence controls whether batches are recorded in PostgreSQL.
	Persistence PersistenceConfig `mapstructure:"persistence"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Research contains the remote research API client settings.
	Research ResearchConfig `mapstructure:"research"`
	// Batch contains worker pool and batch registry settings.
	Batch BatchConfig `mapstructure:"batch"`
	// Reader contains the retry policy for eventually consistent result reads.
	Reader ReaderConfig `mapstructure:"reader"`
	// Redis contains the idempotency store settings.
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka contains lifecycle event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown,
	// including in-flight jobs.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from KWRESEARCH_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// PersistenceConfig holds settings for the batch audit trail.
type PersistenceConfig struct {
	// Enabled records batches and job outcomes in PostgreSQL.
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// ResearchConfig holds the remote research API client configuration.
type ResearchConfig struct {
	// BaseURL is the research API base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the research API key (loaded from KWRESEARCH_RESEARCH_API_KEY).
	APIKey string `mapstructure:"-"`
	// Timeout is the timeout for create, patch, and read calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RunTimeout is the timeout for the research action call, which runs the
	// whole backend pipeline before it answers.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// RateLimit is the maximum requests per second across all calls.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// MaxRetries is the maximum retries for idempotent calls on 429/5xx.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// BatchConfig holds worker pool settings.
type BatchConfig struct {
	// Concurrency is the number of jobs of one batch processed at once.
	Concurrency int `mapstructure:"concurrency"`
	// MaxJobs is the maximum number of keywords per batch.
	MaxJobs int `mapstructure:"max_jobs"`
	// MaxActiveBatches caps running batches across all clients (0 = unlimited).
	MaxActiveBatches int `mapstructure:"max_active_batches"`
	// Retention is how long a finished batch stays in memory.
	Retention time.Duration `mapstructure:"retention"`
	// PruneInterval is how often finished batches are pruned.
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// ReaderConfig holds the retry policy for eventual result reads.
type ReaderConfig struct {
	// PrimaryAttempts is the attempt budget for the primary result set.
	PrimaryAttempts int `mapstructure:"primary_attempts"`
	// RawAttempts is the attempt budget for the raw result set.
	RawAttempts int `mapstructure:"raw_attempts"`
	// Delay is the fixed delay between attempts.
	Delay time.Duration `mapstructure:"delay"`
}

// RedisConfig holds idempotency store settings.
type RedisConfig struct {
	// Enabled turns on Idempotency-Key handling for batch submission.
	Enabled bool `mapstructure:"enabled"`
	// Addr is the Redis address.
	Addr string `mapstructure:"addr"`
	// Password is the Redis password (loaded from KWRESEARCH_REDIS_PASSWORD).
	Password string `mapstructure:"-"`
	// DB is the Redis database number.
	DB int `mapstructure:"db"`
	// IdempotencyTTL is how long an idempotency key is remembered.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// KafkaConfig holds lifecycle event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic lifecycle events are published to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// CommandTopic is the topic batch commands (cancel) are consumed from.
	// Empty disables the command listener.
	CommandTopic string `mapstructure:"command_topic"`
	// GroupID is the consumer group for the command listener.
	GroupID string `mapstructure:"group_id"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/keyword-research-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets use mapstructure:"-" and never come from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")
	cfg.Research.APIKey = os.Getenv(EnvPrefix + "_RESEARCH_API_KEY")
	cfg.Redis.Password = os.Getenv(EnvPrefix + "_REDIS_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	// Progress streams are long-lived; the write timeout does not apply to them.
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "60s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "kwresearch")
	v.SetDefault("database.name", "keyword_research_service")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	v.SetDefault("persistence.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "keyword_research")

	// Research API defaults
	v.SetDefault("research.base_url", "http://localhost:8000/api")
	v.SetDefault("research.timeout", "30s")
	v.SetDefault("research.run_timeout", "300s")
	v.SetDefault("research.rate_limit", 10.0)
	v.SetDefault("research.burst", 5)
	v.SetDefault("research.max_retries", 3)
	v.SetDefault("research.retry_delay", "1s")

	// Batch defaults
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.max_jobs", 100)
	v.SetDefault("batch.max_active_batches", 50)
	v.SetDefault("batch.retention", "1h")
	v.SetDefault("batch.prune_interval", "5m")

	// Eventual read defaults
	v.SetDefault("reader.primary_attempts", 5)
	v.SetDefault("reader.raw_attempts", 3)
	v.SetDefault("reader.delay", "1500ms")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.idempotency_ttl", "24h")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.keyword_research_service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.command_topic", "commands.keyword_research_service")
	v.SetDefault("kafka.group_id", "keyword-research-service")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Persistence.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Research.BaseURL == "" {
		return fmt.Errorf("research base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Research.BaseURL); err != nil {
		return fmt.Errorf("invalid research base_url: %w", err)
	}
	if c.Research.RunTimeout <= 0 {
		return fmt.Errorf("research run_timeout must be positive")
	}
	if c.Research.RateLimit <= 0 {
		return fmt.Errorf("research rate_limit must be positive")
	}

	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch concurrency must be positive")
	}
	if c.Batch.MaxJobs <= 0 {
		return fmt.Errorf("batch max_jobs must be positive")
	}
	if c.Batch.MaxActiveBatches < 0 {
		return fmt.Errorf("batch max_active_batches must not be negative")
	}

	if c.Reader.PrimaryAttempts <= 0 || c.Reader.RawAttempts <= 0 {
		return fmt.Errorf("reader attempts must be positive")
	}
	if c.Reader.Delay < 0 {
		return fmt.Errorf("reader delay must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}
