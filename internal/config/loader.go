package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LOTTERYD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LOTTERYD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "LOTTERYD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LOTTERYD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LOTTERYD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "LOTTERYD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "LOTTERYD_SERVER_RATE_LIMIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LOTTERYD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LOTTERYD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LOTTERYD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LOTTERYD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LOTTERYD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LOTTERYD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LOTTERYD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LOTTERYD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LOTTERYD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LOTTERYD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LOTTERYD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOTTERYD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOTTERYD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LOTTERYD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LOTTERYD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LOTTERYD_REDIS_TLS_ENABLED")

	// ── Discourse ──
	setStr(&cfg.Discourse.BaseURL, "LOTTERYD_DISCOURSE_BASE_URL")
	setStr(&cfg.Discourse.APIKey, "LOTTERYD_DISCOURSE_API_KEY")
	setStr(&cfg.Discourse.APIUsername, "LOTTERYD_DISCOURSE_API_USERNAME")
	setInt(&cfg.Discourse.RateLimitPerSec, "LOTTERYD_DISCOURSE_RATE_LIMIT_PER_SEC")

	// ── Lottery ──
	setBool(&cfg.Lottery.Enabled, "LOTTERYD_LOTTERY_ENABLED")
	setInt64Slice(&cfg.Lottery.AllowedCategoryIDs, "LOTTERYD_LOTTERY_ALLOWED_CATEGORY_IDS")
	setInt64Slice(&cfg.Lottery.ExcludedGroupIDs, "LOTTERYD_LOTTERY_EXCLUDED_GROUP_IDS")
	setInt(&cfg.Lottery.MinParticipantsFloor, "LOTTERYD_LOTTERY_MIN_PARTICIPANTS_FLOOR")
	setInt(&cfg.Lottery.PostLockDelayMinutes, "LOTTERYD_LOTTERY_POST_LOCK_DELAY_MINUTES")
	setInt(&cfg.Lottery.MaxSpecifiedPosts, "LOTTERYD_LOTTERY_MAX_SPECIFIED_POSTS")
	setInt(&cfg.Lottery.MaxWinners, "LOTTERYD_LOTTERY_MAX_WINNERS")
	setStr(&cfg.Lottery.Timezone, "LOTTERYD_LOTTERY_TIMEZONE")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.PollInterval, "LOTTERYD_SCHEDULER_POLL_INTERVAL")
	setDuration(&cfg.Scheduler.LockTTL, "LOTTERYD_SCHEDULER_LOCK_TTL")
	setInt(&cfg.Scheduler.BatchSize, "LOTTERYD_SCHEDULER_BATCH_SIZE")
	setInt(&cfg.Scheduler.ArchiveRetentionDays, "LOTTERYD_SCHEDULER_ARCHIVE_RETENTION_DAYS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LOTTERYD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LOTTERYD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LOTTERYD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LOTTERYD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LOTTERYD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LOTTERYD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LOTTERYD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LOTTERYD_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LOTTERYD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LOTTERYD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LOTTERYD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LOTTERYD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LOTTERYD_MODE")
	setStr(&cfg.LogLevel, "LOTTERYD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

func setInt64Slice(dst *[]int64, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]int64, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if n, err := strconv.ParseInt(p, 10, 64); err == nil {
				cleaned = append(cleaned, n)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
