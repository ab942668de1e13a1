// Package collector turns a ledger position and live pool state into the
// scalar inputs of the risk evaluator. It never mutates state.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dlmm-risk-manager/internal/dlmm"
	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/risk"
)

// DefaultVolumeDays is the number of daily volume points requested per position.
const DefaultVolumeDays = 2

// PoolReader is the read side of the Pool Service.
type PoolReader interface {
	GetPoolSnapshot(ctx context.Context, pool string) (domain.PoolSnapshot, error)
}

// VolumeSource returns a pool's daily trade volumes, oldest first.
type VolumeSource interface {
	PairTradeVolume(ctx context.Context, pair string, days int) ([]float64, error)
}

var _ PoolReader = (dlmm.Service)(nil)

// Collector gathers PositionMetrics for one position at a time.
type Collector struct {
	pools      PoolReader
	volumes    VolumeSource
	volumeDays int
	logger     *log.Logger
}

// Options contains configuration for creating a Collector.
type Options struct {
	Pools      PoolReader
	Volumes    VolumeSource // nil disables the volume metric
	VolumeDays int          // Default: 2
	Logger     *log.Logger
}

// New creates a Collector.
func New(opts Options) *Collector {
	days := opts.VolumeDays
	if days < 2 {
		days = DefaultVolumeDays
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Collector{
		pools:      opts.Pools,
		volumes:    opts.Volumes,
		volumeDays: days,
		logger:     logger,
	}
}

// InitialPrice returns the entry price of a position in base units:
// total Y deposited over total X deposited across its bins.
func InitialPrice(p *domain.Position) (float64, error) {
	if len(p.Bins) == 0 {
		return 0, fmt.Errorf("position %s has no bins: %w", p.ID, domain.ErrInvalidPositionData)
	}

	var sumX, sumY float64
	for _, b := range p.Bins {
		sumX += float64(b.XAmount)
		sumY += float64(b.YAmount)
	}
	if sumX == 0 || sumY == 0 {
		return 0, fmt.Errorf("position %s has zero deposit on one side: %w", p.ID, domain.ErrInvalidPositionData)
	}
	return sumY / sumX, nil
}

// CurrentPrice returns the active-bin price of a snapshot in human scale.
func CurrentPrice(snap domain.PoolSnapshot) float64 {
	return dlmm.HumanPrice(snap.PricePerLamport, snap.DecimalsX, snap.DecimalsY)
}

// VolumeSeries fetches the pool's daily volumes. Fewer than two points, a
// missing source and a limiter queue timeout all yield ErrInsufficientData.
func (c *Collector) VolumeSeries(ctx context.Context, pool string) ([]float64, error) {
	if c.volumes == nil {
		return nil, fmt.Errorf("no volume source: %w", domain.ErrInsufficientData)
	}

	series, err := c.volumes.PairTradeVolume(ctx, pool, c.volumeDays)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			return nil, err
		}
		return nil, fmt.Errorf("volume series %s: %v: %w", pool, err, domain.ErrInsufficientData)
	}
	if len(series) < 2 {
		return nil, fmt.Errorf("volume series %s has %d points: %w", pool, len(series), domain.ErrInsufficientData)
	}
	return series, nil
}

// Collect fetches a fresh pool snapshot and derives the metrics of position.
//
// Both prices are reported in human scale. A snapshot failure returns
// ErrUpstreamUnavailable; a volume failure only clears VolumeChangePct.
func (c *Collector) Collect(ctx context.Context, p *domain.Position) (domain.PositionMetrics, domain.PoolSnapshot, error) {
	initial, err := InitialPrice(p)
	if err != nil {
		return domain.PositionMetrics{}, domain.PoolSnapshot{}, err
	}

	snap, err := c.pools.GetPoolSnapshot(ctx, p.PoolAddress)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) || errors.Is(err, domain.ErrInvalidPositionData) {
			return domain.PositionMetrics{}, domain.PoolSnapshot{}, fmt.Errorf("pool snapshot %s: %w", p.PoolAddress, err)
		}
		return domain.PositionMetrics{}, domain.PoolSnapshot{}, fmt.Errorf("pool snapshot %s: %v: %w", p.PoolAddress, err, domain.ErrUpstreamUnavailable)
	}

	m := domain.PositionMetrics{
		InitialPrice: initial * dlmm.DecimalsFactor(snap.DecimalsX, snap.DecimalsY),
		CurrentPrice: CurrentPrice(snap),
	}

	series, err := c.VolumeSeries(ctx, p.PoolAddress)
	if err == nil {
		var change float64
		change, err = risk.VolumeChangePct(series)
		if err == nil {
			m.VolumeChangePct = &change
		}
	}
	if err != nil {
		c.logger.Printf("position %s: volume signal unavailable: %v", p.ID, err)
	}

	return m, snap, nil
}
