package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/kimpers/betchya/internal/blob/s3"
	"github.com/kimpers/betchya/internal/cache/redis"
	"github.com/kimpers/betchya/internal/config"
	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/metrics"
	"github.com/kimpers/betchya/internal/notify"
	"github.com/kimpers/betchya/internal/server/handler"
	"github.com/kimpers/betchya/internal/store/postgres"
	"github.com/kimpers/betchya/internal/stream/kafka"
)

// Dependencies bundles every infrastructure dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function. Fields for components a mode does not use are
// nil.
type Dependencies struct {
	// Stores
	JournalStore *postgres.JournalStore
	BetStore     domain.BetStore
	AuditStore   domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Event stream
	Publisher domain.EventPublisher

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier

	// Checks backs GET /api/health.
	Checks map[string]handler.HealthCheck
}

// needsRedis returns true for modes that sequence or serve transactions.
func needsRedis(mode string) bool {
	return mode != "archive"
}

// needsS3 returns true when the archive pass or the archive listing runs.
func needsS3(cfg *config.Config) bool {
	return strings.ToLower(cfg.Mode) == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]handler.HealthCheck{},
	}

	// --- PostgreSQL (every mode: the journal is the source of truth) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Checks["postgres"] = pgClient.Ping

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.JournalStore = postgres.NewJournalStore(pool)
	deps.BetStore = postgres.NewBetStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.PriceCache = redis.NewPriceCache(redisClient, 2*cfg.Judge.MaxPriceAge.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Judge.PriceRate, time.Minute)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage (only for archival) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.JournalStore,
			deps.AuditStore,
		)
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled && mode != "archive" {
		pub := kafka.NewPublisher(kafka.NewWriter(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}))
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("wire: kafka close", slog.String("error", err.Error()))
			}
		})
		deps.Publisher = pub
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
