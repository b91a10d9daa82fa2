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
// built-in defaults, applies BETCHYA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BETCHYA_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are meant to arrive this way rather than through the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.AdminAddress, "BETCHYA_LEDGER_ADMIN_ADDRESS")
	setInt64(&cfg.Ledger.ChainID, "BETCHYA_LEDGER_CHAIN_ID")
	setDuration(&cfg.Ledger.SequencerLockTTL, "BETCHYA_LEDGER_SEQUENCER_LOCK_TTL")
	setDuration(&cfg.Ledger.SequencerWait, "BETCHYA_LEDGER_SEQUENCER_WAIT")
	setDuration(&cfg.Ledger.FollowInterval, "BETCHYA_LEDGER_FOLLOW_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETCHYA_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BETCHYA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETCHYA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETCHYA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETCHYA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETCHYA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETCHYA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETCHYA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETCHYA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETCHYA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETCHYA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETCHYA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETCHYA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETCHYA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETCHYA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETCHYA_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "BETCHYA_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETCHYA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETCHYA_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETCHYA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETCHYA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETCHYA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETCHYA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETCHYA_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "BETCHYA_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "BETCHYA_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "BETCHYA_KAFKA_TOPIC")

	// ── Judge ──
	setBool(&cfg.Judge.Enabled, "BETCHYA_JUDGE_ENABLED")
	setStr(&cfg.Judge.PrivateKey, "BETCHYA_JUDGE_PRIVATE_KEY")
	setStr(&cfg.Judge.EncryptedKeyPath, "BETCHYA_JUDGE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Judge.KeyPassword, "BETCHYA_JUDGE_KEY_PASSWORD")
	setStr(&cfg.Judge.PriceURL, "BETCHYA_JUDGE_PRICE_URL")
	setStr(&cfg.Judge.Pair, "BETCHYA_JUDGE_PAIR")
	setDuration(&cfg.Judge.UpdateInterval, "BETCHYA_JUDGE_UPDATE_INTERVAL")
	setDuration(&cfg.Judge.ScanInterval, "BETCHYA_JUDGE_SCAN_INTERVAL")
	setDuration(&cfg.Judge.MaxPriceAge, "BETCHYA_JUDGE_MAX_PRICE_AGE")
	setInt(&cfg.Judge.PriceRate, "BETCHYA_JUDGE_PRICE_RATE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BETCHYA_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BETCHYA_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BETCHYA_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "BETCHYA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETCHYA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BETCHYA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BETCHYA_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BETCHYA_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETCHYA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETCHYA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETCHYA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETCHYA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETCHYA_MODE")
	setStr(&cfg.LogLevel, "BETCHYA_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
