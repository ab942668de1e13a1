// Package discovery builds the list of investable DLMM pools: Meteora pair
// groups whose tokens pass the DexScreener volatility entry check and whose
// pools trade enough daily volume.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/marketdata"
	"dlmm-risk-manager/internal/observability"
)

// Defaults.
const (
	DefaultInterval         = time.Hour
	DefaultMinVolume24h     = 1_000_000
	DefaultMaxVolatility    = 2.0 // percent over ~4h
	DefaultMinPairsPerGroup = 2
	DefaultPageLimit        = 100
	DefaultDexID            = "raydium"
	DefaultQuoteSymbol      = "USDC"

	archivePrefix = "investable_pools/"
	archiveLatest = archivePrefix + "latest.json"
)

// PairLister lists Meteora pair groups.
type PairLister interface {
	PairsByGroups(ctx context.Context, page, limit int) ([]marketdata.PairGroup, error)
}

// TokenPairSource lists the DEX pairs a token trades in.
type TokenPairSource interface {
	TokenPairs(ctx context.Context, mint string) ([]marketdata.DexPair, error)
}

// SnapshotCache shares snapshots between instances.
type SnapshotCache interface {
	Get(ctx context.Context) (*domain.InvestableSnapshot, bool, error)
	Set(ctx context.Context, snap *domain.InvestableSnapshot) error
}

// Archive stores snapshot history.
type Archive interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Service refreshes and serves the investable-pool snapshot.
type Service struct {
	pairs   PairLister
	tokens  TokenPairSource
	cache   SnapshotCache // optional
	archive Archive       // optional

	interval         time.Duration
	minVolume24h     float64
	maxVolatility    float64
	minPairsPerGroup int
	pageLimit        int
	dexID            string
	quoteSymbol      string
	logger           *log.Logger
	now              func() time.Time

	mu     sync.RWMutex
	latest *domain.InvestableSnapshot

	refreshMu sync.Mutex
}

// Options contains configuration for creating a Service.
type Options struct {
	Pairs   PairLister
	Tokens  TokenPairSource
	Cache   SnapshotCache
	Archive Archive

	Interval         time.Duration // Default: 1h
	MinVolume24h     float64       // Default: 1,000,000
	MaxVolatility    float64       // Default: 2 (%)
	MinPairsPerGroup int           // Default: 2
	PageLimit        int           // Default: 100
	DexID            string        // Default: raydium
	QuoteSymbol      string        // Default: USDC
	Logger           *log.Logger
}

// New creates a discovery Service.
func New(opts Options) *Service {
	s := &Service{
		pairs:            opts.Pairs,
		tokens:           opts.Tokens,
		cache:            opts.Cache,
		archive:          opts.Archive,
		interval:         opts.Interval,
		minVolume24h:     opts.MinVolume24h,
		maxVolatility:    opts.MaxVolatility,
		minPairsPerGroup: opts.MinPairsPerGroup,
		pageLimit:        opts.PageLimit,
		dexID:            opts.DexID,
		quoteSymbol:      opts.QuoteSymbol,
		logger:           opts.Logger,
		now:              time.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.minVolume24h <= 0 {
		s.minVolume24h = DefaultMinVolume24h
	}
	if s.maxVolatility <= 0 {
		s.maxVolatility = DefaultMaxVolatility
	}
	if s.minPairsPerGroup <= 0 {
		s.minPairsPerGroup = DefaultMinPairsPerGroup
	}
	if s.pageLimit <= 0 {
		s.pageLimit = DefaultPageLimit
	}
	if s.dexID == "" {
		s.dexID = DefaultDexID
	}
	if s.quoteSymbol == "" {
		s.quoteSymbol = DefaultQuoteSymbol
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

// Run refreshes the snapshot every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("Discovery started, interval: %v", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Discovery stopping...")
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				s.logger.Printf("refresh failed: %v", err)
			}
		}
	}
}

// Snapshot returns the latest snapshot. On first use it falls back to the
// shared cache and then to a synchronous refresh.
func (s *Service) Snapshot(ctx context.Context) (*domain.InvestableSnapshot, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		return latest, nil
	}

	if s.cache != nil {
		snap, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.Printf("snapshot cache read failed: %v", err)
		} else if ok {
			s.store(snap)
			return snap, nil
		}
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Another reader may have refreshed while this one waited.
	s.mu.RLock()
	latest = s.latest
	s.mu.RUnlock()
	if latest != nil {
		return latest, nil
	}
	return s.refreshLocked(ctx)
}

// Refresh rebuilds the snapshot from upstream, publishes it to the cache and
// archive, and makes it the latest. Refreshes are serialised.
func (s *Service) Refresh(ctx context.Context) (*domain.InvestableSnapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Service) refreshLocked(ctx context.Context) (*domain.InvestableSnapshot, error) {
	snap, err := s.build(ctx)
	if err != nil {
		observability.RecordDiscovery(0, s.now().Unix(), err)
		return nil, err
	}

	s.store(snap)
	observability.RecordDiscovery(len(snap.Addresses()), s.now().Unix(), nil)

	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.Printf("snapshot cache write failed: %v", err)
		}
	}
	if s.archive != nil {
		if err := s.archiveSnapshot(ctx, snap); err != nil {
			s.logger.Printf("snapshot archive failed: %v", err)
		}
	}

	s.logger.Printf("discovery found %d groups, %d pools", len(snap.Pairs), len(snap.Addresses()))
	return snap, nil
}

func (s *Service) store(snap *domain.InvestableSnapshot) {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
}

func (s *Service) build(ctx context.Context) (*domain.InvestableSnapshot, error) {
	groups, err := s.pairs.PairsByGroups(ctx, 0, s.pageLimit)
	if err != nil {
		return nil, fmt.Errorf("list pair groups: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	snap := &domain.InvestableSnapshot{LastUpdated: now, Pairs: []domain.PoolGroup{}}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(g.Pairs) < s.minPairsPerGroup {
			continue
		}

		first := g.Pairs[0]
		ok, err := s.EntryCheck(ctx, first.MintX, first.MintY)
		if err != nil {
			s.logger.Printf("group %s: entry check unavailable: %v", g.Name, err)
			continue
		}
		if !ok {
			continue
		}

		group := domain.PoolGroup{Name: g.Name, LastUpdated: now}
		for _, p := range g.Pairs {
			if p.TradeVolume24h.Float() <= s.minVolume24h {
				continue
			}
			group.Pools = append(group.Pools, toInvestable(p))
		}
		if len(group.Pools) > 0 {
			snap.Pairs = append(snap.Pairs, group)
		}
	}
	return snap, nil
}

// EntryCheck reports whether both tokens have a ~4h volatility at or below
// the maximum. A token without a matching DEX pair fails the check.
func (s *Service) EntryCheck(ctx context.Context, mintX, mintY string) (bool, error) {
	for _, mint := range []string{mintX, mintY} {
		pairs, err := s.tokens.TokenPairs(ctx, mint)
		if err != nil {
			return false, err
		}
		pair, found := marketdata.FindPair(pairs, mint, s.dexID, s.quoteSymbol)
		if !found {
			return false, nil
		}
		if Volatility4h(pair) > s.maxVolatility {
			return false, nil
		}
	}
	return true, nil
}

// Volatility4h approximates the 4h price change in percent from the 6h change.
func Volatility4h(p marketdata.DexPair) float64 {
	return math.Abs(p.PriceChange["h6"]) / 3
}

func toInvestable(p marketdata.Pair) domain.InvestablePool {
	symbolX, symbolY, _ := strings.Cut(p.Name, "-")
	return domain.InvestablePool{
		Address:   p.Address,
		SymbolX:   strings.TrimSpace(symbolX),
		SymbolY:   strings.TrimSpace(symbolY),
		MintX:     p.MintX,
		MintY:     p.MintY,
		Volume24h: p.TradeVolume24h.Float(),
		TVL:       p.Liquidity.Float(),
	}
}

func (s *Service) archiveSnapshot(ctx context.Context, snap *domain.InvestableSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := fmt.Sprintf("%s%d.json", archivePrefix, s.now().Unix())
	for _, p := range []string{path, archiveLatest} {
		if err := s.archive.Put(ctx, p, bytes.NewReader(data), "application/json"); err != nil {
			return err
		}
	}
	return nil
}
