package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	History   HistoryConfig   `mapstructure:"history"`
	HTTP      HTTPLimitConfig `mapstructure:"http_limit"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BroadcastConfig tunes the dispatch pipeline. Batch size and delay live on
// each schedule; these are the engine-wide knobs.
type BroadcastConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	DefaultPriority     int           `mapstructure:"default_priority"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	PageSize            int           `mapstructure:"page_size"`
	InterMessageDelay   time.Duration `mapstructure:"inter_message_delay"`
	StuckThreshold      time.Duration `mapstructure:"stuck_threshold"`
	RetryScanInterval   time.Duration `mapstructure:"retry_scan_interval"`
	RetryPageSize       int           `mapstructure:"retry_page_size"`
	SessionPrecheckSize int           `mapstructure:"session_precheck_size"`
	ContactCacheTTL     time.Duration `mapstructure:"contact_cache_ttl"`
}

// RateLimitConfig holds the per-session delivery ceilings.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type HistoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	KeepCampaigns   int           `mapstructure:"keep_campaigns"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// HTTPLimitConfig throttles the admin API, not message delivery.
type HTTPLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env overrides for the values that differ per deployment.
	if host := os.Getenv("DB_HOST"); host != "" {
		config.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		config.Database.Port, _ = strconv.Atoi(port)
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Redis.URL = url
	}
	if key := os.Getenv("GATEWAY_API_KEY"); key != "" {
		config.Gateway.APIKey = key
	}

	return &config, nil
}
