package memory

import (
	"context"
	"sort"
	"sync"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by position ID
}

var _ storage.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// RecordOpened stores a new position. Returns ErrDuplicateKey if the ID exists.
func (s *PositionStore) RecordOpened(_ context.Context, p *domain.Position) error {
	if err := storage.ValidatePosition(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[p.ID] = storage.ClonePosition(p)
	return nil
}

// RecordLiquidityAdded increases the deposited amount of an OPEN position.
func (s *PositionStore) RecordLiquidityAdded(_ context.Context, positionID string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[positionID]
	if !ok {
		return storage.ErrNotFound
	}
	if !p.IsOpen() {
		return storage.ErrNotOpen
	}
	if amount > storage.MaxAmount-p.Amount {
		return storage.ErrInvalidInput
	}
	p.Amount += amount
	return nil
}

// MarkClosed transitions an OPEN position to CLOSED.
func (s *PositionStore) MarkClosed(_ context.Context, positionID, signature string, closedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[positionID]
	if !ok {
		return storage.ErrNotFound
	}
	if !p.IsOpen() {
		return storage.ErrNotOpen
	}
	p.Status = domain.PositionStatusClosed
	p.ClosedAt = &closedAt
	p.CloseSignature = signature
	return nil
}

// GetByID retrieves a position by ID.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[positionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.ClonePosition(p), nil
}

// ListOpenPositions returns all OPEN positions ordered by creation time.
func (s *PositionStore) ListOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return s.List(ctx, domain.PositionStatusOpen)
}

// List returns positions filtered by status.
func (s *PositionStore) List(_ context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return status == "" || p.Status == status
	}), nil
}

// ListByPool returns a pool's positions filtered by status.
func (s *PositionStore) ListByPool(_ context.Context, pool string, status domain.PositionStatus) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return p.PoolAddress == pool && (status == "" || p.Status == status)
	}), nil
}

func (s *PositionStore) filter(keep func(*domain.Position) bool) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if keep(p) {
			result = append(result, storage.ClonePosition(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result
}
