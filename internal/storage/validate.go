package storage

import (
	"fmt"
	"math"

	"dlmm-risk-manager/internal/domain"
)

// MaxAmount is the largest token amount a ledger can hold. The Postgres
// ledger stores amounts as BIGINT.
const MaxAmount = math.MaxInt64

// ValidatePosition checks the fields every store requires before RecordOpened.
func ValidatePosition(p *domain.Position) error {
	if p == nil || p.ID == "" || p.PoolAddress == "" || p.Owner == "" {
		return ErrInvalidInput
	}
	if len(p.Bins) == 0 {
		return ErrInvalidInput
	}
	if p.Status != domain.PositionStatusOpen {
		return ErrInvalidInput
	}
	if p.Amount > MaxAmount {
		return fmt.Errorf("%w: amount %d exceeds %d", ErrInvalidInput, p.Amount, uint64(MaxAmount))
	}
	for _, b := range p.Bins {
		if b.XAmount > MaxAmount || b.YAmount > MaxAmount {
			return fmt.Errorf("%w: bin %d amount exceeds %d", ErrInvalidInput, b.BinID, uint64(MaxAmount))
		}
	}
	return nil
}

// ClonePosition returns a deep copy so callers cannot mutate stored state.
func ClonePosition(p *domain.Position) *domain.Position {
	cp := *p
	cp.Bins = append([]domain.BinAllocation(nil), p.Bins...)
	if p.ClosedAt != nil {
		closed := *p.ClosedAt
		cp.ClosedAt = &closed
	}
	return &cp
}
