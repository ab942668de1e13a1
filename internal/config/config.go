// Package config defines the service configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dlmm-risk-manager/internal/domain"
)

// Config is the root configuration. Fields come from Defaults, an optional
// TOML file, and then environment overrides.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Solana     SolanaConfig     `toml:"solana"`
	Builder    BuilderConfig    `toml:"builder"`
	MarketData MarketDataConfig `toml:"market_data"`
	Risk       RiskConfig       `toml:"risk"`
	Controller ControllerConfig `toml:"controller"`
	Position   PositionConfig   `toml:"position"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Storage    StorageConfig    `toml:"storage"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// SolanaConfig holds the chain endpoints and the wallet secret.
type SolanaConfig struct {
	RPCEndpoint      string `toml:"rpc_endpoint"`
	WSEndpoint       string `toml:"ws_endpoint"` // derived from RPCEndpoint when empty
	WalletPrivateKey string `toml:"wallet_private_key"`
}

// BuilderConfig points at the DLMM transaction-builder API.
type BuilderConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// MarketDataConfig holds the analytics API endpoints and their rate limits.
type MarketDataConfig struct {
	MeteoraURL      string   `toml:"meteora_url"`
	DexScreenerURL  string   `toml:"dexscreener_url"`
	MeteoraRate     float64  `toml:"meteora_rate"`
	DexScreenerRate float64  `toml:"dexscreener_rate"`
	QueueTimeout    duration `toml:"queue_timeout"`
	VolumeDays      int      `toml:"volume_days"`
}

// RiskConfig mirrors domain.RiskThresholds.
type RiskConfig struct {
	StopLoss            float64 `toml:"stop_loss"`
	MaxImpermanentLoss  float64 `toml:"max_impermanent_loss"`
	VolumeDropThreshold float64 `toml:"volume_drop_threshold"`
	HealthScoreMin      float64 `toml:"health_score_min"`
	CheckIntervalMs     int64   `toml:"check_interval_ms"`
}

// ControllerConfig sizes the risk cycle.
type ControllerConfig struct {
	Workers      int      `toml:"workers"`
	CycleTimeout duration `toml:"cycle_timeout"`
	LockTTL      duration `toml:"lock_ttl"`
}

// PositionConfig controls new deposits.
type PositionConfig struct {
	BinWidth int `toml:"bin_width"`
}

// DiscoveryConfig controls the investable pool scan.
type DiscoveryConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	MinVolume24h  float64  `toml:"min_volume_24h"`
	MaxVolatility float64  `toml:"max_volatility"`
}

// StorageConfig selects the ledger and verdict history backends. An empty
// PostgresDSN keeps the ledger in memory; an empty ClickHouseDSN keeps
// verdicts in memory.
type StorageConfig struct {
	PostgresDSN        string `toml:"postgres_dsn"`
	PostgresMaxConns   int    `toml:"postgres_max_conns"`
	ClickHouseDSN      string `toml:"clickhouse_dsn"`
	ClickHouseDatabase string `toml:"clickhouse_database"`
	RunMigrations      bool   `toml:"run_migrations"`
}

// RedisConfig enables the shared lock, limiter and snapshot cache when Addr is set.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// S3Config enables the snapshot archive when Bucket is set.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration wraps time.Duration so TOML strings like "2m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the production defaults.
func Defaults() Config {
	thresholds := domain.DefaultRiskThresholds()
	return Config{
		Server: ServerConfig{Addr: ":3000"},
		Solana: SolanaConfig{RPCEndpoint: "https://api.mainnet-beta.solana.com"},
		Builder: BuilderConfig{
			BaseURL: "http://localhost:8081",
			Timeout: duration{30 * time.Second},
		},
		MarketData: MarketDataConfig{
			MeteoraURL:      "https://dlmm-api.meteora.ag",
			DexScreenerURL:  "https://api.dexscreener.com",
			MeteoraRate:     1,
			DexScreenerRate: 5,
			QueueTimeout:    duration{10 * time.Second},
			VolumeDays:      2,
		},
		Risk: RiskConfig{
			StopLoss:            thresholds.StopLossFraction,
			MaxImpermanentLoss:  thresholds.MaxImpermanentLoss,
			VolumeDropThreshold: thresholds.VolumeDropThreshold,
			HealthScoreMin:      thresholds.HealthScoreMin,
			CheckIntervalMs:     thresholds.CheckIntervalMs,
		},
		Controller: ControllerConfig{
			Workers:      4,
			CycleTimeout: duration{2 * time.Minute},
			LockTTL:      duration{5 * time.Minute},
		},
		Position: PositionConfig{BinWidth: 10},
		Discovery: DiscoveryConfig{
			Enabled:       true,
			Interval:      duration{time.Hour},
			MinVolume24h:  1_000_000,
			MaxVolatility: 2,
		},
		Storage: StorageConfig{
			PostgresMaxConns:   10,
			ClickHouseDatabase: "default",
			RunMigrations:      true,
		},
		Redis: RedisConfig{
			PoolSize:    10,
			MaxRetries:  3,
			SnapshotTTL: duration{2 * time.Hour},
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
	}
}

// Thresholds returns the risk thresholds as the domain type.
func (c *Config) Thresholds() domain.RiskThresholds {
	return domain.RiskThresholds{
		StopLossFraction:    c.Risk.StopLoss,
		MaxImpermanentLoss:  c.Risk.MaxImpermanentLoss,
		VolumeDropThreshold: c.Risk.VolumeDropThreshold,
		HealthScoreMin:      c.Risk.HealthScoreMin,
		CheckIntervalMs:     c.Risk.CheckIntervalMs,
	}
}

// CheckInterval returns the risk cycle period.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Risk.CheckIntervalMs) * time.Millisecond
}

// WSEndpoint returns the configured WebSocket endpoint or one derived from
// the RPC endpoint.
func (c *Config) WSEndpoint() string {
	if c.Solana.WSEndpoint != "" {
		return c.Solana.WSEndpoint
	}
	switch {
	case strings.HasPrefix(c.Solana.RPCEndpoint, "https://"):
		return "wss://" + strings.TrimPrefix(c.Solana.RPCEndpoint, "https://")
	case strings.HasPrefix(c.Solana.RPCEndpoint, "http://"):
		return "ws://" + strings.TrimPrefix(c.Solana.RPCEndpoint, "http://")
	}
	return c.Solana.RPCEndpoint
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Solana.WalletPrivateKey == "" {
		errs = append(errs, "solana: wallet_private_key must be set (WALLET_PRIVATE_KEY)")
	}
	if !validURL(c.Solana.RPCEndpoint, "http", "https") {
		errs = append(errs, fmt.Sprintf("solana: rpc_endpoint %q must be an http(s) URL", c.Solana.RPCEndpoint))
	}
	if c.Solana.WSEndpoint != "" && !validURL(c.Solana.WSEndpoint, "ws", "wss") {
		errs = append(errs, fmt.Sprintf("solana: ws_endpoint %q must be a ws(s) URL", c.Solana.WSEndpoint))
	}
	if !validURL(c.Builder.BaseURL, "http", "https") {
		errs = append(errs, fmt.Sprintf("builder: base_url %q must be an http(s) URL", c.Builder.BaseURL))
	}

	if !validURL(c.MarketData.MeteoraURL, "http", "https") {
		errs = append(errs, fmt.Sprintf("market_data: meteora_url %q must be an http(s) URL", c.MarketData.MeteoraURL))
	}
	if c.Discovery.Enabled && !validURL(c.MarketData.DexScreenerURL, "http", "https") {
		errs = append(errs, fmt.Sprintf("market_data: dexscreener_url %q must be an http(s) URL", c.MarketData.DexScreenerURL))
	}
	if c.MarketData.MeteoraRate <= 0 || c.MarketData.DexScreenerRate <= 0 {
		errs = append(errs, "market_data: rates must be > 0")
	}
	if c.MarketData.QueueTimeout.Duration <= 0 {
		errs = append(errs, "market_data: queue_timeout must be > 0")
	}
	if c.MarketData.VolumeDays < 2 {
		errs = append(errs, "market_data: volume_days must be >= 2")
	}

	if c.Risk.StopLoss <= 0 || c.Risk.StopLoss >= 1 {
		errs = append(errs, fmt.Sprintf("risk: stop_loss must be in (0, 1), got %v", c.Risk.StopLoss))
	}
	if c.Risk.MaxImpermanentLoss <= 0 || c.Risk.MaxImpermanentLoss >= 1 {
		errs = append(errs, fmt.Sprintf("risk: max_impermanent_loss must be in (0, 1), got %v", c.Risk.MaxImpermanentLoss))
	}
	if c.Risk.VolumeDropThreshold <= 0 {
		errs = append(errs, "risk: volume_drop_threshold must be > 0")
	}
	if c.Risk.HealthScoreMin < 0 || c.Risk.HealthScoreMin > 100 {
		errs = append(errs, fmt.Sprintf("risk: health_score_min must be 0-100, got %v", c.Risk.HealthScoreMin))
	}
	if c.Risk.CheckIntervalMs < 1000 {
		errs = append(errs, "risk: check_interval_ms must be >= 1000")
	}

	if c.Controller.Workers < 1 {
		errs = append(errs, "controller: workers must be >= 1")
	}
	if c.Controller.CycleTimeout.Duration <= 0 {
		errs = append(errs, "controller: cycle_timeout must be > 0")
	}
	if c.Controller.LockTTL.Duration < c.Controller.CycleTimeout.Duration {
		errs = append(errs, "controller: lock_ttl must not be shorter than cycle_timeout")
	}
	if c.Position.BinWidth < 1 || c.Position.BinWidth > 34 {
		errs = append(errs, fmt.Sprintf("position: bin_width must be 1-34, got %d", c.Position.BinWidth))
	}

	if c.Discovery.Enabled {
		if c.Discovery.Interval.Duration <= 0 {
			errs = append(errs, "discovery: interval must be > 0")
		}
		if c.Discovery.MaxVolatility <= 0 {
			errs = append(errs, "discovery: max_volatility must be > 0")
		}
	}

	if c.Storage.PostgresDSN != "" && c.Storage.PostgresMaxConns < 1 {
		errs = append(errs, "storage: postgres_max_conns must be >= 1")
	}
	if c.Storage.ClickHouseDSN != "" && c.Storage.ClickHouseDatabase == "" {
		errs = append(errs, "storage: clickhouse_database must not be empty")
	}
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty")
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func validURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}
