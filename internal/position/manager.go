// Package position opens, tops up, sells and claims fees of DLMM positions
// on behalf of the service wallet, keeping the ledger in step with chain.
package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"dlmm-risk-manager/internal/dlmm"
	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/solana"
	"dlmm-risk-manager/internal/storage"
)

// Errors returned by Manager.
var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrNoOpenPosition = errors.New("no open position in pool")
	ErrPoolMismatch   = errors.New("position belongs to another pool")
)

const ledgerTimeout = 10 * time.Second

// Exiter closes a position through the locked exit path.
type Exiter interface {
	ExitPosition(ctx context.Context, p *domain.Position, reason domain.ReasonCode) (string, error)
}

// Manager executes operator-initiated position operations.
type Manager struct {
	pools     dlmm.Service
	positions storage.PositionStore
	exiter    Exiter
	owner     string
	binWidth  int
	logger    *log.Logger
	now       func() time.Time
}

// Options contains configuration for creating a Manager.
type Options struct {
	Pools     dlmm.Service
	Positions storage.PositionStore
	Exiter    Exiter
	Owner     string // wallet public key recorded on new positions
	BinWidth  int    // Default: dlmm.DefaultBinWidth
	Logger    *log.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	width := opts.BinWidth
	if width <= 0 {
		width = dlmm.DefaultBinWidth
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Manager{
		pools:     opts.Pools,
		positions: opts.Positions,
		exiter:    opts.Exiter,
		owner:     opts.Owner,
		binWidth:  width,
		logger:    logger,
		now:       time.Now,
	}
}

// deposit is a balanced deposit around the active bin.
type deposit struct {
	active     domain.ActiveBin
	totalX     uint64
	totalY     uint64
	minBinID   int32
	maxBinID   int32
	allocation []domain.BinAllocation
}

// planDeposit sizes Y from X at the active-bin price and spreads both sides
// over active ± binWidth.
func (m *Manager) planDeposit(ctx context.Context, pool string, amount uint64) (deposit, error) {
	if amount == 0 {
		return deposit{}, ErrInvalidAmount
	}
	if amount > storage.MaxAmount {
		return deposit{}, fmt.Errorf("%w: %d exceeds the ledger limit %d", ErrInvalidAmount, amount, uint64(storage.MaxAmount))
	}

	active, err := m.pools.GetActiveBin(ctx, pool)
	if err != nil {
		return deposit{}, fmt.Errorf("active bin %s: %w", pool, err)
	}

	y := math.Floor(float64(amount) * active.PricePerLamport)
	if y < 1 || y >= float64(storage.MaxAmount) {
		return deposit{}, fmt.Errorf("%w: %d X at price %g gives no usable Y amount", ErrInvalidAmount, amount, active.PricePerLamport)
	}

	d := deposit{active: active, totalX: amount, totalY: uint64(y)}
	d.minBinID, d.maxBinID = dlmm.BinRange(active.BinID, m.binWidth)
	d.allocation = dlmm.SpotBalanced(active.BinID, m.binWidth, d.totalX, d.totalY)
	return d, nil
}

// CreatePosition opens a new position in pool with amount of token X and the
// matching amount of token Y. Every call uses a fresh position keypair.
func (m *Manager) CreatePosition(ctx context.Context, pool string, amount uint64) (*domain.Position, error) {
	d, err := m.planDeposit(ctx, pool, amount)
	if err != nil {
		return nil, err
	}

	kp, err := solana.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate position keypair: %w", err)
	}

	res, err := m.pools.InitializePosition(ctx, dlmm.InitializePositionRequest{
		Pool:     pool,
		Position: kp,
		TotalX:   d.totalX,
		TotalY:   d.totalY,
		MinBinID: d.minBinID,
		MaxBinID: d.maxBinID,
		Strategy: dlmm.StrategySpotBalanced,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize position: %w", err)
	}

	p := &domain.Position{
		ID:          kp.PublicKey(),
		PoolAddress: pool,
		Owner:       m.owner,
		Amount:      d.totalX,
		Bins:        d.allocation,
		Status:      domain.PositionStatusOpen,
		CreatedAt:   m.now().UnixMilli(),
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := m.positions.RecordOpened(lctx, p); err != nil {
		m.logger.Printf("OPERATOR: position %s opened on chain (sig %s) but not recorded: %v", p.ID, res.LastSignature(), err)
		return nil, fmt.Errorf("record position %s: %w", p.ID, err)
	}

	m.logger.Printf("position %s opened in pool %s: x=%d y=%d bins=[%d,%d] sig=%s",
		p.ID, pool, d.totalX, d.totalY, d.minBinID, d.maxBinID, res.LastSignature())
	return p, nil
}

// AddLiquidity deposits into the newest OPEN position of pool. The bins
// recorded at open time are left untouched; only the deposited total grows.
func (m *Manager) AddLiquidity(ctx context.Context, pool string, amount uint64) (string, error) {
	target, err := m.newestOpen(ctx, pool)
	if err != nil {
		return "", err
	}

	d, err := m.planDeposit(ctx, pool, amount)
	if err != nil {
		return "", err
	}

	if target.Amount > storage.MaxAmount-d.totalX {
		return "", fmt.Errorf("%w: position %s would exceed the ledger limit", ErrInvalidAmount, target.ID)
	}

	res, err := m.pools.AddLiquidityByStrategy(ctx, dlmm.AddLiquidityRequest{
		Pool:     pool,
		Position: target.ID,
		TotalX:   d.totalX,
		TotalY:   d.totalY,
		MinBinID: d.minBinID,
		MaxBinID: d.maxBinID,
		Strategy: dlmm.StrategySpotBalanced,
	})
	if err != nil {
		return "", fmt.Errorf("add liquidity: %w", err)
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := m.positions.RecordLiquidityAdded(lctx, target.ID, d.totalX); err != nil {
		m.logger.Printf("OPERATOR: liquidity added to %s (sig %s) but not recorded: %v", target.ID, res.LastSignature(), err)
		return "", fmt.Errorf("record liquidity %s: %w", target.ID, err)
	}
	return res.LastSignature(), nil
}

// SellPosition exits every OPEN position of pool. Positions are attempted
// independently; the returned error joins all failures.
func (m *Manager) SellPosition(ctx context.Context, pool string) ([]string, error) {
	open, err := m.positions.ListByPool(ctx, pool, domain.PositionStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOpenPosition, pool)
	}

	var (
		sigs []string
		errs []error
	)
	for _, p := range open {
		sig, err := m.exiter.ExitPosition(ctx, p, domain.ReasonManual)
		if err != nil {
			errs = append(errs, fmt.Errorf("position %s: %w", p.ID, err))
			continue
		}
		sigs = append(sigs, sig)
	}
	return sigs, errors.Join(errs...)
}

// ClaimFees claims the swap fees of one position in pool.
func (m *Manager) ClaimFees(ctx context.Context, pool, positionID string) (string, error) {
	p, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return "", fmt.Errorf("position %s: %w", positionID, err)
	}
	if p.PoolAddress != pool {
		return "", fmt.Errorf("%w: %s is in %s", ErrPoolMismatch, positionID, p.PoolAddress)
	}
	if !p.IsOpen() {
		return "", fmt.Errorf("position %s: %w", positionID, storage.ErrNotOpen)
	}

	res, err := m.pools.ClaimFees(ctx, dlmm.ClaimFeesRequest{Pool: pool, Position: positionID})
	if err != nil {
		return "", fmt.Errorf("claim fees: %w", err)
	}
	return res.LastSignature(), nil
}

// Positions lists ledger positions filtered by status ("" for all).
func (m *Manager) Positions(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	return m.positions.List(ctx, status)
}

func (m *Manager) newestOpen(ctx context.Context, pool string) (*domain.Position, error) {
	open, err := m.positions.ListByPool(ctx, pool, domain.PositionStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOpenPosition, pool)
	}
	return open[len(open)-1], nil
}
