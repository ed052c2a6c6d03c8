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
// built-in defaults, applies CONVEX_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CONVEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CONVEX_RESOLVER_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CONVEX_RESOLVER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CONVEX_RESOLVER_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CONVEX_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "CONVEX_CHAIN_ID")
	setStr(&cfg.Chain.ContractAddress, "CONVEX_MANAGER_CONTRACT_ADDRESS")
	setBool(&cfg.Chain.WatchEvents, "CONVEX_CHAIN_WATCH_EVENTS")
	setDuration(&cfg.Chain.ConfirmTimeout, "CONVEX_CHAIN_CONFIRM_TIMEOUT")

	// ── Oracle ──
	setDuration(&cfg.Oracle.PollInterval, "CONVEX_ORACLE_POLL_INTERVAL")
	setInt(&cfg.Oracle.MaxRetries, "CONVEX_ORACLE_MAX_RETRIES")
	setDuration(&cfg.Oracle.RetryBaseDelay, "CONVEX_ORACLE_RETRY_BASE_DELAY")
	setDuration(&cfg.Oracle.CacheTTL, "CONVEX_ORACLE_CACHE_TTL")
	setFloat64(&cfg.Oracle.DefaultThreshold, "CONVEX_ORACLE_DEFAULT_THRESHOLD")

	// ── Feeds ──
	setStr(&cfg.Feeds.CoinGeckoURL, "CONVEX_FEEDS_COINGECKO_URL")
	setStr(&cfg.Feeds.CoinGeckoAPIKey, "CONVEX_FEEDS_COINGECKO_API_KEY")
	setStr(&cfg.Feeds.SportsURL, "CONVEX_FEEDS_SPORTS_URL")
	setStr(&cfg.Feeds.SportsAPIKey, "CONVEX_FEEDS_SPORTS_API_KEY")

	// ── Database ──
	setStr(&cfg.Database.DSN, "CONVEX_DATABASE_DSN")
	setStr(&cfg.Database.Host, "CONVEX_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CONVEX_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CONVEX_DATABASE_NAME")
	setStr(&cfg.Database.User, "CONVEX_DATABASE_USER")
	setStr(&cfg.Database.Password, "CONVEX_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CONVEX_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "CONVEX_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CONVEX_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CONVEX_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CONVEX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CONVEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CONVEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CONVEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CONVEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CONVEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CONVEX_REDIS_TLS_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CONVEX_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CONVEX_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "CONVEX_ARCHIVE_INTERVAL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CONVEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CONVEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "CONVEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CONVEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CONVEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CONVEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CONVEX_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CONVEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CONVEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CONVEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CONVEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CONVEX_MODE")
	setStr(&cfg.LogLevel, "CONVEX_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
