package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"time"

	s3blob "dlmm-risk-manager/internal/blob/s3"
	rediscache "dlmm-risk-manager/internal/cache/redis"
	"dlmm-risk-manager/internal/collector"
	"dlmm-risk-manager/internal/config"
	"dlmm-risk-manager/internal/controller"
	"dlmm-risk-manager/internal/discovery"
	"dlmm-risk-manager/internal/dlmm"
	"dlmm-risk-manager/internal/lock"
	"dlmm-risk-manager/internal/marketdata"
	"dlmm-risk-manager/internal/position"
	"dlmm-risk-manager/internal/ratelimit"
	"dlmm-risk-manager/internal/scheduler"
	"dlmm-risk-manager/internal/server"
	"dlmm-risk-manager/internal/solana"
	"dlmm-risk-manager/internal/storage"
	chstore "dlmm-risk-manager/internal/storage/clickhouse"
	"dlmm-risk-manager/internal/storage/memory"
	"dlmm-risk-manager/internal/storage/migrations"
	pgstore "dlmm-risk-manager/internal/storage/postgres"
)

const startupTimeout = 30 * time.Second

// app holds the wired components and the resources to release on exit.
type app struct {
	server    *server.Server
	scheduler *scheduler.Scheduler
	discovery *discovery.Service // nil when disabled

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, "["+prefix+"] ", log.LstdFlags|log.Lshortfile)
}

// build connects every dependency. Any error here is fatal: the wallet, the
// RPC node and the configured stores must all be usable before the first cycle.
func build(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	wallet, err := solana.KeypairFromBase58(cfg.Solana.WalletPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}

	chain, err := connectChain(startCtx, ctx, cfg, wallet)
	if err != nil {
		return nil, err
	}
	if chain.WS != nil {
		a.closers = append(a.closers, func() { chain.WS.Close() })
	}

	builder := dlmm.NewBuilder(cfg.Builder.BaseURL, &http.Client{Timeout: cfg.Builder.Timeout.Duration})
	pools := dlmm.NewClient(chain, builder, newLogger("dlmm"))

	positions, verdicts, err := connectStores(startCtx, cfg, a)
	if err != nil {
		return nil, err
	}

	var (
		locks        lock.Locker = lock.NewMemory()
		cache        discovery.SnapshotCache
		meteoraLimit ratelimit.Limiter = ratelimit.NewRateLimiter(cfg.MarketData.MeteoraRate, 1)
		dexLimit     ratelimit.Limiter = ratelimit.NewRateLimiter(cfg.MarketData.DexScreenerRate, 1)
	)
	if cfg.Redis.Addr != "" {
		rc, err := rediscache.New(startCtx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { rc.Close() })

		limiter := rediscache.NewRateLimiter(rc)
		locks = rediscache.NewLockManager(rc)
		cache = rediscache.NewSnapshotCache(rc, cfg.Redis.SnapshotTTL.Duration)
		meteoraLimit = limiter.Limiter("meteora", perSecond(cfg.MarketData.MeteoraRate), time.Second)
		dexLimit = limiter.Limiter("dexscreener", perSecond(cfg.MarketData.DexScreenerRate), time.Second)
	}

	meteora := marketdata.NewMeteoraClient(cfg.MarketData.MeteoraURL,
		marketdata.WithLimiter(meteoraLimit),
		marketdata.WithQueueTimeout(cfg.MarketData.QueueTimeout.Duration),
	)

	ctrl := controller.New(controller.Options{
		Positions: positions,
		Verdicts:  verdicts,
		Collector: collector.New(collector.Options{
			Pools:      pools,
			Volumes:    meteora,
			VolumeDays: cfg.MarketData.VolumeDays,
			Logger:     newLogger("collector"),
		}),
		Pools:        pools,
		Locks:        locks,
		Thresholds:   cfg.Thresholds(),
		Workers:      cfg.Controller.Workers,
		CycleTimeout: cfg.Controller.CycleTimeout.Duration,
		LockTTL:      cfg.Controller.LockTTL.Duration,
		Logger:       newLogger("controller"),
	})

	a.scheduler = scheduler.New(scheduler.Options{
		Runner:   ctrl,
		Interval: cfg.CheckInterval(),
		Logger:   newLogger("scheduler"),
	})

	manager := position.NewManager(position.Options{
		Pools:     pools,
		Positions: positions,
		Exiter:    ctrl,
		Owner:     wallet.PublicKey(),
		BinWidth:  cfg.Position.BinWidth,
		Logger:    newLogger("position"),
	})

	var snapshots server.PoolSnapshotter
	if cfg.Discovery.Enabled {
		var archive discovery.Archive
		if cfg.S3.Bucket != "" {
			client, err := s3blob.New(startCtx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				return nil, fmt.Errorf("s3: %w", err)
			}
			archive = s3blob.NewStore(client)
		}

		a.discovery = discovery.New(discovery.Options{
			Pairs: meteora,
			Tokens: marketdata.NewDexScreenerClient(cfg.MarketData.DexScreenerURL, cfg.MarketData.DexScreenerRate,
				marketdata.WithLimiter(dexLimit),
				marketdata.WithQueueTimeout(cfg.MarketData.QueueTimeout.Duration),
			),
			Cache:         cache,
			Archive:       archive,
			Interval:      cfg.Discovery.Interval.Duration,
			MinVolume24h:  cfg.Discovery.MinVolume24h,
			MaxVolatility: cfg.Discovery.MaxVolatility,
			Logger:        newLogger("discovery"),
		})
		snapshots = a.discovery
	}

	a.server = server.New(server.Options{
		Addr:      cfg.Server.Addr,
		Positions: manager,
		Cycles:    a.scheduler,
		Pools:     snapshots,
		Verdicts:  verdicts,
		Stats:     a.scheduler,
		Logger:    newLogger("http"),
	})

	return a, nil
}

// connectChain checks the RPC node and opens the confirmation WebSocket.
// A WebSocket failure is not fatal: confirmations fall back to polling.
func connectChain(startCtx, runCtx context.Context, cfg *config.Config, wallet *solana.Keypair) (*solana.Chain, error) {
	logger := newLogger("solana")
	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint)

	var ws solana.WSClient
	client, err := solana.NewWSClient(runCtx, cfg.WSEndpoint(), nil, logger)
	if err != nil {
		logger.Printf("WebSocket unavailable, confirmations will poll: %v", err)
	} else {
		ws = client
	}

	chain := solana.NewChain(rpc, ws, wallet, logger)
	if err := chain.CheckHealth(startCtx); err != nil {
		if ws != nil {
			ws.Close()
		}
		return nil, fmt.Errorf("solana rpc unreachable: %w", err)
	}
	logger.Printf("Connected to %s as %s", cfg.Solana.RPCEndpoint, wallet.PublicKey())
	return chain, nil
}

// connectStores returns the ledger and verdict history. Empty DSNs select the
// in-memory stores.
func connectStores(ctx context.Context, cfg *config.Config, a *app) (storage.PositionStore, storage.VerdictStore, error) {
	logger := newLogger("storage")

	var (
		positions storage.PositionStore = memory.NewPositionStore()
		verdicts  storage.VerdictStore  = memory.NewVerdictStore()
	)

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn, int32(cfg.Storage.PostgresMaxConns))
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, pool.Close)

		if cfg.Storage.RunMigrations {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				return nil, nil, err
			}
			logger.Printf("Postgres migrations applied: %v", applied)
		}
		positions = pgstore.NewPositionStore(pool)
	} else {
		logger.Println("Using in-memory ledger")
	}

	if dsn := cfg.Storage.ClickHouseDSN; dsn != "" {
		var (
			conn *chstore.Conn
			err  error
		)
		if cfg.Storage.RunMigrations {
			conn, err = migrations.RunClickhouseMigrations(ctx, dsn, cfg.Storage.ClickHouseDatabase)
		} else {
			conn, err = chstore.NewConnWithDatabase(ctx, dsn, cfg.Storage.ClickHouseDatabase)
		}
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { conn.Close() })
		verdicts = chstore.NewVerdictStore(conn)
	} else {
		logger.Println("Using in-memory verdict history")
	}

	return positions, verdicts, nil
}

// perSecond converts a rate to a whole request count per one-second window.
func perSecond(rate float64) int {
	return max(1, int(math.Floor(rate)))
}
