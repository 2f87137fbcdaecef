// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the timetable cache
type Config struct {
	Source        SourceConfig        `mapstructure:"source"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	DynamoDB      DynamoDBConfig      `mapstructure:"dynamodb"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// SourceConfig holds settings for the remote timetable API
type SourceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// RetryConfig holds retry settings for source fetches
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// BreakerConfig holds circuit breaker settings for source fetches
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the durable-tier backend
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // redis, dynamodb, memory or none
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DynamoDBConfig holds DynamoDB store configuration
type DynamoDBConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Table    string `mapstructure:"table"`
}

// CacheConfig holds cache layer settings
type CacheConfig struct {
	// Retention is the age-based eviction window applied when the
	// durable tier runs out of space
	Retention time.Duration `mapstructure:"retention"`
}

// WarmupConfig holds startup prefetch settings
type WarmupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URLs     []string      `mapstructure:"urls"`
	Parallel bool          `mapstructure:"parallel"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig holds the introspection HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.base_url", "https://ftmk.utem.edu.my/portal_ad/data.php")
	v.SetDefault("source.timeout", "10s")
	v.SetDefault("source.retry.max_attempts", 3)
	v.SetDefault("source.retry.base_delay", "200ms")
	v.SetDefault("source.retry.max_delay", "2s")
	v.SetDefault("source.retry.jitter", 0.2)
	v.SetDefault("source.breaker.failure_threshold", 5)
	v.SetDefault("source.breaker.success_threshold", 2)
	v.SetDefault("source.breaker.timeout", "30s")

	// Store defaults
	v.SetDefault("store.backend", "redis")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// DynamoDB defaults
	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.endpoint", "")
	v.SetDefault("dynamodb.table", "timetable-cache")

	// Cache defaults
	v.SetDefault("cache.retention", "24h")

	// Warmup defaults
	v.SetDefault("warmup.enabled", false)
	v.SetDefault("warmup.parallel", true)
	v.SetDefault("warmup.timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source base URL is required")
	}

	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source timeout must be positive")
	}

	validBackends := map[string]bool{
		"redis":    true,
		"dynamodb": true,
		"memory":   true,
		"none":     true,
	}
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	if c.Store.Backend == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Store.Backend == "dynamodb" {
		if c.DynamoDB.Region == "" {
			return fmt.Errorf("dynamodb region is required")
		}
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb table is required")
		}
	}

	if c.Cache.Retention <= 0 {
		return fmt.Errorf("cache retention must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
