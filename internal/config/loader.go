package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file at path (when
// path is non-empty), then a .env file if present, then environment
// overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// LoadFromEnv is Load with the file path taken from CONFIG_FILE.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.Addr, "HTTP_ADDR")
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}

	// ── Solana ──
	setStr(&cfg.Solana.RPCEndpoint, "RPC") // compatibility alias
	setStr(&cfg.Solana.RPCEndpoint, "SOLANA_RPC_ENDPOINT")
	setStr(&cfg.Solana.WSEndpoint, "SOLANA_WS_ENDPOINT")
	setStr(&cfg.Solana.WalletPrivateKey, "USER_PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Solana.WalletPrivateKey, "WALLET_PRIVATE_KEY")

	// ── Builder ──
	setStr(&cfg.Builder.BaseURL, "DLMM_BUILDER_URL")
	setDuration(&cfg.Builder.Timeout, "DLMM_BUILDER_TIMEOUT")

	// ── Market data ──
	setStr(&cfg.MarketData.MeteoraURL, "METEORA_API_URL")
	setStr(&cfg.MarketData.DexScreenerURL, "DEXSCREENER_API_URL")
	setFloat64(&cfg.MarketData.MeteoraRate, "METEORA_RATE_LIMIT")
	setFloat64(&cfg.MarketData.DexScreenerRate, "DEXSCREENER_RATE_LIMIT")
	setDuration(&cfg.MarketData.QueueTimeout, "MARKET_DATA_QUEUE_TIMEOUT")
	setInt(&cfg.MarketData.VolumeDays, "VOLUME_DAYS")

	// ── Risk ──
	setFloat64(&cfg.Risk.StopLoss, "STOP_LOSS")
	setFloat64(&cfg.Risk.MaxImpermanentLoss, "MAX_IMPERMANENT_LOSS")
	setFloat64(&cfg.Risk.VolumeDropThreshold, "VOLUME_DROP_THRESHOLD")
	setFloat64(&cfg.Risk.HealthScoreMin, "HEALTH_SCORE_MIN")
	setInt64(&cfg.Risk.CheckIntervalMs, "CHECK_INTERVAL")

	// ── Controller ──
	setInt(&cfg.Controller.Workers, "WORKERS")
	setDuration(&cfg.Controller.CycleTimeout, "CYCLE_TIMEOUT")
	setDuration(&cfg.Controller.LockTTL, "LOCK_TTL")

	// ── Position ──
	setInt(&cfg.Position.BinWidth, "BIN_WIDTH")

	// ── Discovery ──
	setBool(&cfg.Discovery.Enabled, "DISCOVERY_ENABLED")
	setDuration(&cfg.Discovery.Interval, "DISCOVERY_INTERVAL")
	setFloat64(&cfg.Discovery.MinVolume24h, "DISCOVERY_MIN_VOLUME_24H")
	setFloat64(&cfg.Discovery.MaxVolatility, "DISCOVERY_MAX_VOLATILITY")

	// ── Storage ──
	setStr(&cfg.Storage.PostgresDSN, "POSTGRES_DSN")
	setInt(&cfg.Storage.PostgresMaxConns, "POSTGRES_MAX_CONNS")
	setStr(&cfg.Storage.ClickHouseDSN, "CLICKHOUSE_DSN")
	setStr(&cfg.Storage.ClickHouseDatabase, "CLICKHOUSE_DATABASE")
	setBool(&cfg.Storage.RunMigrations, "RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "REDIS_SNAPSHOT_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
}

// Typed env helpers. Each only mutates the target when the variable is set,
// non-empty and parses.

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
