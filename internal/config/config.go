// Package config defines the top-level configuration for a Betchya node and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kimpers/betchya/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BETCHYA_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Judge    JudgeConfig    `toml:"judge"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig fixes the deployment: who administers it, which chain id
// signatures are bound to, and the opening balances.
type LedgerConfig struct {
	AdminAddress string `toml:"admin_address"`
	ChainID      int64  `toml:"chain_id"`
	// Genesis maps an address to its opening balance in wei.
	Genesis          map[string]string `toml:"genesis"`
	SequencerLockTTL duration          `toml:"sequencer_lock_ttl"`
	SequencerWait    duration          `toml:"sequencer_wait"`
	FollowInterval   duration          `toml:"follow_interval"`
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
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig controls the event stream for downstream indexers.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// JudgeConfig configures the built-in price judge that runs in full mode.
type JudgeConfig struct {
	Enabled          bool     `toml:"enabled"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	PriceURL         string   `toml:"price_url"`
	Pair             string   `toml:"pair"`
	UpdateInterval   duration `toml:"update_interval"`
	ScanInterval     duration `toml:"scan_interval"`
	MaxPriceAge      duration `toml:"max_price_age"`
	// PriceRate caps price feed requests per minute.
	PriceRate int `toml:"price_rate"`
}

// ArchiveConfig controls journal and audit archival to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every route except health and metrics. Empty disables it.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			ChainID:          1,
			Genesis:          map[string]string{},
			SequencerLockTTL: duration{10 * time.Second},
			SequencerWait:    duration{5 * time.Second},
			FollowInterval:   duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "betchya",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "betchya-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "betchya.events",
		},
		Judge: JudgeConfig{
			PriceURL:       "https://api.kraken.com",
			Pair:           "ETHUSD",
			UpdateInterval: duration{time.Minute},
			ScanInterval:   duration{15 * time.Second},
			MaxPriceAge:    duration{5 * time.Minute},
			PriceRate:      30,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"created", "settled", "cancelled", "breaker_changed"},
		},
		Mode:     "node",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"node":    true,
	"full":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, full, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.AdminAddress == "" {
		errs = append(errs, "ledger: admin_address must be set")
	} else if _, err := domain.ParseAddress(c.Ledger.AdminAddress); err != nil {
		errs = append(errs, fmt.Sprintf("ledger: admin_address: %v", err))
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, "ledger: chain_id must be positive")
	}
	if _, err := c.Ledger.GenesisBalances(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Ledger.SequencerLockTTL.Duration <= 0 {
		errs = append(errs, "ledger: sequencer_lock_ttl must be > 0")
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

	// S3 is needed by the archive pass and the archive listing.
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if mode == "full" && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Kafka
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka: brokers must not be empty when enabled")
	}

	// Judge
	if c.Judge.Enabled {
		if c.Judge.PrivateKey == "" && c.Judge.EncryptedKeyPath == "" {
			errs = append(errs, "judge: either private_key or encrypted_key_path must be set when enabled")
		}
		if c.Judge.EncryptedKeyPath != "" && c.Judge.KeyPassword == "" {
			errs = append(errs, "judge: key_password is required when encrypted_key_path is set")
		}
		if c.Judge.PriceURL == "" {
			errs = append(errs, "judge: price_url must not be empty")
		}
		if c.Judge.Pair == "" {
			errs = append(errs, "judge: pair must not be empty")
		}
		if c.Judge.MaxPriceAge.Duration <= 0 {
			errs = append(errs, "judge: max_price_age must be > 0")
		}
	}

	// Server
	if mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Admin returns the parsed administrator address. Call Validate first.
func (l LedgerConfig) Admin() domain.Address {
	addr, _ := domain.ParseAddress(l.AdminAddress)
	return addr
}

// GenesisBalances parses the genesis table.
func (l LedgerConfig) GenesisBalances() (map[domain.Address]domain.Amount, error) {
	out := make(map[domain.Address]domain.Amount, len(l.Genesis))
	for k, v := range l.Genesis {
		addr, err := domain.ParseAddress(k)
		if err != nil {
			return nil, fmt.Errorf("ledger: genesis address %q: %w", k, err)
		}
		amt, err := domain.ParseAmount(v)
		if err != nil {
			return nil, fmt.Errorf("ledger: genesis amount for %s: %w", k, err)
		}
		if _, dup := out[addr]; dup {
			return nil, fmt.Errorf("ledger: genesis address %s listed twice", addr.Hex())
		}
		out[addr] = amt
	}
	return out, nil
}
