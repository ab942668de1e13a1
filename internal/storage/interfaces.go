package storage

import (
	"context"

	"dlmm-risk-manager/internal/domain"
)

// PositionStore is the ledger of liquidity positions.
// Corresponds to positions + position_bins tables in PostgreSQL.
type PositionStore interface {
	// RecordOpened stores a newly opened position with its bin allocations.
	// Returns ErrDuplicateKey if the position ID exists.
	RecordOpened(ctx context.Context, p *domain.Position) error

	// RecordLiquidityAdded adds amount to an OPEN position's deposited total.
	// Bin allocations are left untouched. Returns ErrNotFound or ErrNotOpen.
	RecordLiquidityAdded(ctx context.Context, positionID string, amount uint64) error

	// MarkClosed transitions an OPEN position to CLOSED.
	// Returns ErrNotFound if missing and ErrNotOpen if already closed.
	MarkClosed(ctx context.Context, positionID, signature string, closedAt int64) error

	// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// ListOpenPositions returns all OPEN positions ordered by created_at ASC.
	ListOpenPositions(ctx context.Context) ([]*domain.Position, error)

	// List returns positions with the given status ("" for all) ordered by created_at ASC.
	List(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error)

	// ListByPool returns positions of a pool with the given status ("" for all)
	// ordered by created_at ASC.
	ListByPool(ctx context.Context, pool string, status domain.PositionStatus) ([]*domain.Position, error)
}

// VerdictStore is the append-only history of risk verdicts.
type VerdictStore interface {
	// InsertBulk appends verdicts.
	InsertBulk(ctx context.Context, verdicts []*domain.RiskVerdict) error

	// GetByPosition returns up to limit verdicts of a position, newest first.
	GetByPosition(ctx context.Context, positionID string, limit int) ([]*domain.RiskVerdict, error)

	// GetByCycle returns every verdict of one cycle ordered by position ID.
	GetByCycle(ctx context.Context, cycleID string) ([]*domain.RiskVerdict, error)
}
