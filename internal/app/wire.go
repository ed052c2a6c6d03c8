package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	s3blob "github.com/Juggernaut7/convex/internal/blob/s3"
	"github.com/Juggernaut7/convex/internal/cache/memory"
	"github.com/Juggernaut7/convex/internal/cache/redis"
	"github.com/Juggernaut7/convex/internal/chain"
	"github.com/Juggernaut7/convex/internal/config"
	"github.com/Juggernaut7/convex/internal/crypto"
	"github.com/Juggernaut7/convex/internal/domain"
	"github.com/Juggernaut7/convex/internal/feed"
	"github.com/Juggernaut7/convex/internal/notify"
	"github.com/Juggernaut7/convex/internal/resolver"
	"github.com/Juggernaut7/convex/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	MarketStore domain.MarketStore
	AuditStore  domain.AuditStore

	Feeds *feed.Registry

	Chain *chain.Client

	Runner *resolver.Runner

	Notifier *notify.Notifier

	// MemCache is set when the in-process snapshot cache is in use; run mode
	// drives its periodic cleanup. Nil when Redis backs the cache.
	MemCache *memory.SnapshotCache

	// Archiver is nil unless archival is enabled in config.
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration. The returned cleanup function releases resources and should
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.MarketStore = postgres.NewMarketStore(pgClient)
	deps.AuditStore = postgres.NewAuditStore(pgClient)

	// Snapshot cache: Redis when enabled, in-process memory otherwise.
	var snapCache domain.SnapshotCache
	if cfg.Redis.Enabled {
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
		snapCache = redis.NewSnapshotCache(redisClient)
	} else {
		memCache := memory.NewSnapshotCache()
		deps.MemCache = memCache
		snapCache = memCache
	}

	// Price feeds, each wrapped with the snapshot cache.
	cacheTTL := cfg.Oracle.CacheTTL.Duration
	deps.Feeds = feed.NewRegistry(
		feed.NewCachedFeed(feed.NewCoinGeckoClient(cfg.Feeds.CoinGeckoURL, cfg.Feeds.CoinGeckoAPIKey), snapCache, cacheTTL, logger),
		feed.NewCachedFeed(feed.NewSportsClient(cfg.Feeds.SportsURL, cfg.Feeds.SportsAPIKey), snapCache, cacheTTL, logger),
	)

	providers := deps.Feeds.Providers()
	sort.Strings(providers)
	logger.InfoContext(ctx, "price feeds registered", slog.Any("providers", providers))

	// Resolver wallet and chain client.
	keyHex, err := crypto.LoadKey(crypto.KeySource{
		RawHex:        cfg.Wallet.PrivateKey,
		EncryptedPath: cfg.Wallet.EncryptedKeyPath,
		Password:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: resolver key: %w", err)
	}

	chainClient, err := chain.NewClient(chain.ClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		ChainID:         cfg.Chain.ChainID,
		ContractAddress: cfg.Chain.ContractAddress,
		PrivateKeyHex:   keyHex,
		MaxRetries:      cfg.Oracle.MaxRetries,
		RetryBaseDelay:  cfg.Oracle.RetryBaseDelay.Duration,
		ConfirmTimeout:  cfg.Chain.ConfirmTimeout.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain client: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscord(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(logger, cfg.Notify.Events, senders...)

	// The resolution runner itself.
	deps.Runner = resolver.NewRunner(
		deps.MarketStore,
		deps.Feeds,
		chainClient,
		deps.AuditStore,
		deps.Notifier,
		resolver.Config{
			PollInterval:     cfg.Oracle.PollInterval.Duration,
			DefaultThreshold: cfg.Oracle.DefaultThreshold,
		},
		logger,
	)

	// Audit archival to object storage.
	if cfg.Archive.Enabled {
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

		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.MarketStore,
			deps.AuditStore,
			retention,
			logger,
		)
	}

	return deps, cleanup, nil
}
