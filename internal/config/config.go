// Package config defines the top-level configuration for the lottery service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LOTTERYD_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Discourse DiscourseConfig `toml:"discourse"`
	Lottery   LotteryConfig   `toml:"lottery"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client IP per minute. Zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// DiscourseConfig holds the forum REST API connection parameters.
type DiscourseConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	APIUsername string `toml:"api_username"`
	// RateLimitPerSec throttles outgoing API calls. Zero means unthrottled.
	RateLimitPerSec int `toml:"rate_limit_per_sec"`
}

// LotteryConfig holds the site-level lottery feature settings.
type LotteryConfig struct {
	Enabled            bool    `toml:"enabled"`
	AllowedCategoryIDs []int64 `toml:"allowed_category_ids"`
	ExcludedGroupIDs   []int64 `toml:"excluded_group_ids"`
	// MinParticipantsFloor is the global lower bound on the participation
	// threshold a creator may set.
	MinParticipantsFloor int `toml:"min_participants_floor"`
	// PostLockDelayMinutes bounds the regret period and schedules the post
	// lock. Zero disables post locking and closes the edit window right away.
	PostLockDelayMinutes int `toml:"post_lock_delay_minutes"`
	MaxSpecifiedPosts    int `toml:"max_specified_posts"`
	MaxWinners           int `toml:"max_winners"`
	// Timezone resolves naive draw-time stamps, e.g. "Asia/Shanghai".
	Timezone string `toml:"timezone"`
}

// SchedulerConfig holds the background worker parameters.
type SchedulerConfig struct {
	PollInterval         duration `toml:"poll_interval"`
	LockTTL              duration `toml:"lock_ttl"`
	BatchSize            int      `toml:"batch_size"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds operator notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "15s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "15s" or "2m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lotteryd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Discourse: DiscourseConfig{
			APIUsername:     "system",
			RateLimitPerSec: 5,
		},
		Lottery: LotteryConfig{
			Enabled:              true,
			MinParticipantsFloor: 5,
			PostLockDelayMinutes: 30,
			MaxSpecifiedPosts:    20,
			MaxWinners:           50,
			Timezone:             "Asia/Shanghai",
		},
		Scheduler: SchedulerConfig{
			PollInterval:         duration{15 * time.Second},
			LockTTL:              duration{2 * time.Minute},
			BatchSize:            50,
			ArchiveRetentionDays: 90,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "lotteryd-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"draw_failed", "archive_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":  true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, worker, full)", c.Mode))
	}
	// A serve process with the server off has nothing left to run.
	if strings.ToLower(c.Mode) == "serve" && !c.Server.Enabled {
		errs = append(errs, `mode "serve" requires server.enabled = true`)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Discourse access is required in every mode, the worker cannot announce or lock without it.
	if c.Discourse.BaseURL == "" {
		errs = append(errs, "discourse: base_url must not be empty")
	}
	if c.Discourse.APIKey == "" {
		errs = append(errs, "discourse: api_key must not be empty")
	}

	// Lottery
	if c.Lottery.MinParticipantsFloor < 1 {
		errs = append(errs, "lottery: min_participants_floor must be >= 1")
	}
	if c.Lottery.PostLockDelayMinutes < 0 {
		errs = append(errs, "lottery: post_lock_delay_minutes must be >= 0")
	}
	if c.Lottery.MaxSpecifiedPosts < 1 {
		errs = append(errs, "lottery: max_specified_posts must be >= 1")
	}
	if c.Lottery.MaxWinners < 1 {
		errs = append(errs, "lottery: max_winners must be >= 1")
	}
	if c.Lottery.Timezone != "" {
		if _, err := time.LoadLocation(c.Lottery.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("lottery: unknown timezone %q", c.Lottery.Timezone))
		}
	}

	// Scheduler
	if c.Scheduler.PollInterval.Duration <= 0 {
		errs = append(errs, "scheduler: poll_interval must be positive")
	}
	if c.Scheduler.LockTTL.Duration <= 0 {
		errs = append(errs, "scheduler: lock_ttl must be positive")
	}
	if c.Scheduler.BatchSize < 1 {
		errs = append(errs, "scheduler: batch_size must be >= 1")
	}
	if c.Scheduler.ArchiveRetentionDays < 0 {
		errs = append(errs, "scheduler: archive_retention_days must be >= 0")
	}

	// S3 settings are only checked when the archive is enabled.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// PostLockDelay returns the regret-period and post-lock delay as a Duration.
func (c *LotteryConfig) PostLockDelay() time.Duration {
	return time.Duration(c.PostLockDelayMinutes) * time.Minute
}

// Location resolves the configured timezone, falling back to time.Local when
// unset or unknown.
func (c *LotteryConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
