package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/observability"
	"dlmm-risk-manager/internal/storage"
)

// PositionStore is a PostgreSQL implementation of storage.PositionStore.
// Uses two tables:
//   - positions: one row per position with its lifecycle status
//   - position_bins: bin allocations captured at open time
type PositionStore struct {
	pool *Pool
}

var _ storage.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PostgreSQL position store.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionColumns = `id, pool_address, owner, amount, status, created_at, closed_at, close_signature`

// RecordOpened inserts the position and its bins in one transaction.
func (s *PositionStore) RecordOpened(ctx context.Context, p *domain.Position) (err error) {
	if err := storage.ValidatePosition(p); err != nil {
		return err
	}
	defer observe("record_opened", time.Now(), &err)

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO positions (`+positionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, NULL, '')
		`, p.ID, p.PoolAddress, p.Owner, int64(p.Amount), string(p.Status), p.CreatedAt)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert position: %w", err)
		}

		rows := make([][]any, len(p.Bins))
		for i, b := range p.Bins {
			rows[i] = []any{p.ID, b.BinID, int64(b.XAmount), int64(b.YAmount)}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"position_bins"},
			[]string{"position_id", "bin_id", "x_amount", "y_amount"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%w: duplicate bin id", storage.ErrInvalidInput)
			}
			return fmt.Errorf("insert position bins: %w", err)
		}
		return nil
	})
}

// RecordLiquidityAdded increases the deposited amount of an OPEN position.
func (s *PositionStore) RecordLiquidityAdded(ctx context.Context, positionID string, amount uint64) (err error) {
	defer observe("record_liquidity_added", time.Now(), &err)

	if amount > storage.MaxAmount {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET amount = amount + $2
		WHERE id = $1 AND status = 'OPEN'
	`, positionID, int64(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrNotOpen(ctx, positionID)
	}
	return nil
}

// MarkClosed transitions an OPEN position to CLOSED.
// The status predicate makes concurrent closes race-free: only one UPDATE matches.
func (s *PositionStore) MarkClosed(ctx context.Context, positionID, signature string, closedAt int64) (err error) {
	defer observe("mark_closed", time.Now(), &err)

	tag, err := s.pool.Exec(ctx, `
		UPDATE positions
		SET status = 'CLOSED', closed_at = $2, close_signature = $3
		WHERE id = $1 AND status = 'OPEN'
	`, positionID, closedAt, signature)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrNotOpen(ctx, positionID)
	}
	return nil
}

func (s *PositionStore) missingOrNotOpen(ctx context.Context, positionID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)`, positionID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrNotOpen
}

// GetByID retrieves a position with its bins.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (_ *domain.Position, err error) {
	defer observe("get_position", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	if err := s.loadBins(ctx, []*domain.Position{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// ListOpenPositions returns all OPEN positions ordered by created_at ASC.
func (s *PositionStore) ListOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return s.List(ctx, domain.PositionStatusOpen)
}

// List returns positions filtered by status ("" for all).
func (s *PositionStore) List(ctx context.Context, status domain.PositionStatus) (_ []*domain.Position, err error) {
	defer observe("list_positions", time.Now(), &err)

	return s.query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
	`, string(status))
}

// ListByPool returns a pool's positions filtered by status ("" for all).
func (s *PositionStore) ListByPool(ctx context.Context, pool string, status domain.PositionStatus) (_ []*domain.Position, err error) {
	defer observe("list_positions_by_pool", time.Now(), &err)

	return s.query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE pool_address = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC, id ASC
	`, pool, string(status))
}

func (s *PositionStore) query(ctx context.Context, sql string, args ...any) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadBins(ctx, positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// loadBins fills Bins for every position with a single query.
func (s *PositionStore) loadBins(ctx context.Context, positions []*domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Position, len(positions))
	ids := make([]string, len(positions))
	for i, p := range positions {
		byID[p.ID] = p
		ids[i] = p.ID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT position_id, bin_id, x_amount, y_amount
		FROM position_bins
		WHERE position_id = ANY($1)
		ORDER BY position_id, bin_id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			positionID string
			binID      int32
			x, y       int64
		)
		if err := rows.Scan(&positionID, &binID, &x, &y); err != nil {
			return err
		}
		if p, ok := byID[positionID]; ok {
			p.Bins = append(p.Bins, domain.BinAllocation{BinID: binID, XAmount: uint64(x), YAmount: uint64(y)})
		}
	}
	return rows.Err()
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p      domain.Position
		amount int64
		status string
	)
	err := row.Scan(&p.ID, &p.PoolAddress, &p.Owner, &amount, &status, &p.CreatedAt, &p.ClosedAt, &p.CloseSignature)
	if err != nil {
		return nil, err
	}
	p.Amount = uint64(amount)
	p.Status = domain.PositionStatus(status)
	return &p, nil
}

func observe(operation string, start time.Time, err *error) {
	failed := *err
	if errors.Is(failed, storage.ErrNotFound) || errors.Is(failed, storage.ErrNotOpen) || errors.Is(failed, storage.ErrDuplicateKey) {
		failed = nil
	}
	observability.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), failed)
}
