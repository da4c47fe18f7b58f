package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Redis           RedisConfig           `yaml:"redis"`
	Scheduler       SchedulerConfig       `yaml:"scheduler"`
	RecurrenceCache RecurrenceCacheConfig `yaml:"recurrence_cache"`
	Plans           PlansConfig           `yaml:"plans"`
	Pacing          PacingConfig          `yaml:"pacing"`
	AMQP            AMQPConfig            `yaml:"amqp"`
	Logging         LoggingConfig         `yaml:"logging"`
	Metrics         MetricsConfig         `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// ConnLifetime returns the connection max lifetime as a Duration.
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// RedisConfig holds the Redis settings used for distributed locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SchedulerConfig holds scheduler loop settings
type SchedulerConfig struct {
	Enabled                bool `yaml:"enabled"`
	PollIntervalSeconds    int  `yaml:"poll_interval_seconds"`
	MaxConcurrentCompanies int  `yaml:"max_concurrent_companies"`
	BatchSize              int  `yaml:"batch_size"`
	MaxCampaignsPerCompany int  `yaml:"max_campaigns_per_company"`
	OneShotBatch           int  `yaml:"one_shot_batch"`
	LockTTLSeconds         int  `yaml:"lock_ttl_seconds"`
	ToleranceSeconds       int  `yaml:"tolerance_seconds"`
	StaleAfterSeconds      int  `yaml:"stale_after_seconds"`
}

// PollInterval returns the tick interval as a Duration
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c SchedulerConfig) Tolerance() time.Duration {
	return time.Duration(c.ToleranceSeconds) * time.Second
}

func (c SchedulerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// RecurrenceCacheConfig bounds the next-fire-time memo cache.
type RecurrenceCacheConfig struct {
	SizeBytes  int `yaml:"size_bytes"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

func (c RecurrenceCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// PlansConfig holds the limits for companies without a plan row.
type PlansConfig struct {
	DefaultMaxCampaigns  int `yaml:"default_max_campaigns"`
	DefaultMaxRecipients int `yaml:"default_max_recipients"`
}

// PacingConfig holds the queue pacing fallbacks.
type PacingConfig struct {
	DefaultDelayMs     int `yaml:"default_delay_ms"`
	DefaultJitterMinMs int `yaml:"default_jitter_min_ms"`
	DefaultJitterMaxMs int `yaml:"default_jitter_max_ms"`
}

// AMQPConfig holds the delivery hand-off broker settings.
type AMQPConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	// Scheduler defaults
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 30
	}
	if cfg.Scheduler.MaxConcurrentCompanies == 0 {
		cfg.Scheduler.MaxConcurrentCompanies = 5
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 50
	}
	if cfg.Scheduler.MaxCampaignsPerCompany == 0 {
		cfg.Scheduler.MaxCampaignsPerCompany = 200
	}
	if cfg.Scheduler.OneShotBatch == 0 {
		cfg.Scheduler.OneShotBatch = 100
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 120
	}
	if cfg.Scheduler.ToleranceSeconds == 0 {
		cfg.Scheduler.ToleranceSeconds = 120
	}
	if cfg.Scheduler.StaleAfterSeconds == 0 {
		cfg.Scheduler.StaleAfterSeconds = 300
	}
	if cfg.RecurrenceCache.SizeBytes == 0 {
		cfg.RecurrenceCache.SizeBytes = 1 << 20
	}
	if cfg.RecurrenceCache.TTLSeconds == 0 {
		cfg.RecurrenceCache.TTLSeconds = 60
	}
	if cfg.Plans.DefaultMaxCampaigns == 0 {
		cfg.Plans.DefaultMaxCampaigns = 5
	}
	if cfg.Plans.DefaultMaxRecipients == 0 {
		cfg.Plans.DefaultMaxRecipients = 1000
	}
	// Pacing defaults; a zero jitter floor is meaningful, so only the delay
	// and the ceiling are defaulted.
	if cfg.Pacing.DefaultDelayMs == 0 {
		cfg.Pacing.DefaultDelayMs = 2000
	}
	if cfg.Pacing.DefaultJitterMaxMs == 0 {
		cfg.Pacing.DefaultJitterMaxMs = 1000
	}
	if cfg.AMQP.Queue == "" {
		cfg.AMQP.Queue = "campaign.queued"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars. An empty path
// starts from the defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
		cfg.AMQP.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	return cfg, nil
}
