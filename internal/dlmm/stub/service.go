// Package stub provides an in-memory dlmm.Service for tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"dlmm-risk-manager/internal/dlmm"
	"dlmm-risk-manager/internal/domain"
)

// Service implements dlmm.Service for testing. Pools are configured with
// SetPool; RemoveErr and friends inject failures.
type Service struct {
	mu sync.Mutex

	Pools map[string]domain.PoolSnapshot

	SnapshotErr error
	InitErr     error
	AddErr      error
	RemoveErr   error
	ClaimErr    error

	// RemoveHook, when set, runs inside RemoveLiquidity before it returns.
	RemoveHook func(req dlmm.RemoveLiquidityRequest)

	Initialized []dlmm.InitializePositionRequest
	Added       []dlmm.AddLiquidityRequest
	Removed     []dlmm.RemoveLiquidityRequest
	Claimed     []dlmm.ClaimFeesRequest

	sigSeq int
}

var _ dlmm.Service = (*Service)(nil)

// NewService creates an empty stub.
func NewService() *Service {
	return &Service{Pools: make(map[string]domain.PoolSnapshot)}
}

// SetPool registers a pool snapshot.
func (s *Service) SetPool(snap domain.PoolSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pools[snap.PoolAddress] = snap
}

// SetActiveBin updates the active bin of a registered pool.
func (s *Service) SetActiveBin(pool string, binID int32, pricePerLamport float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.Pools[pool]
	snap.PoolAddress = pool
	snap.ActiveBinID = binID
	snap.PricePerLamport = pricePerLamport
	s.Pools[pool] = snap
}

func (s *Service) GetActiveBin(ctx context.Context, pool string) (domain.ActiveBin, error) {
	snap, err := s.GetPoolSnapshot(ctx, pool)
	if err != nil {
		return domain.ActiveBin{}, err
	}
	return domain.ActiveBin{BinID: snap.ActiveBinID, PricePerLamport: snap.PricePerLamport}, nil
}

func (s *Service) GetPoolSnapshot(_ context.Context, pool string) (domain.PoolSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SnapshotErr != nil {
		return domain.PoolSnapshot{}, s.SnapshotErr
	}
	snap, ok := s.Pools[pool]
	if !ok {
		return domain.PoolSnapshot{}, fmt.Errorf("stub: pool %s: %w", pool, domain.ErrUpstreamUnavailable)
	}
	return snap, nil
}

func (s *Service) InitializePosition(_ context.Context, req dlmm.InitializePositionRequest) (domain.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InitErr != nil {
		return domain.TxResult{}, s.InitErr
	}
	s.Initialized = append(s.Initialized, req)
	return s.result(), nil
}

func (s *Service) AddLiquidityByStrategy(_ context.Context, req dlmm.AddLiquidityRequest) (domain.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return domain.TxResult{}, s.AddErr
	}
	s.Added = append(s.Added, req)
	return s.result(), nil
}

func (s *Service) RemoveLiquidity(_ context.Context, req dlmm.RemoveLiquidityRequest) (domain.TxResult, error) {
	s.mu.Lock()
	hook := s.RemoveHook
	s.Removed = append(s.Removed, req)
	err := s.RemoveErr
	s.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return domain.TxResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result(), nil
}

func (s *Service) ClaimFees(_ context.Context, req dlmm.ClaimFeesRequest) (domain.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClaimErr != nil {
		return domain.TxResult{}, s.ClaimErr
	}
	s.Claimed = append(s.Claimed, req)
	return s.result(), nil
}

// RemoveCount returns the number of RemoveLiquidity calls, failed ones included.
func (s *Service) RemoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Removed)
}

// SetRemoveErr changes the injected removal error.
func (s *Service) SetRemoveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RemoveErr = err
}

// must be called with mu held
func (s *Service) result() domain.TxResult {
	s.sigSeq++
	return domain.TxResult{Signatures: []string{fmt.Sprintf("sig-%d", s.sigSeq)}}
}
