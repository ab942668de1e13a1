package clickhouse

import (
	"context"
	"fmt"
	"time"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/observability"
	"dlmm-risk-manager/internal/storage"
)

// VerdictStore implements storage.VerdictStore using ClickHouse.
// Rows are append-only; the table is a plain MergeTree ordered by (position_id, evaluated_at).
type VerdictStore struct {
	conn *Conn
}

// NewVerdictStore creates a new VerdictStore.
func NewVerdictStore(conn *Conn) *VerdictStore {
	return &VerdictStore{conn: conn}
}

// Compile-time interface check.
var _ storage.VerdictStore = (*VerdictStore)(nil)

const verdictColumns = `
	cycle_id, position_id, pool_address,
	impermanent_loss, price_drawdown, volume_change_pct, health_score,
	action, triggered_by, exit_state, err, evaluated_at`

// InsertBulk appends verdicts in a single batch.
func (s *VerdictStore) InsertBulk(ctx context.Context, verdicts []*domain.RiskVerdict) (err error) {
	if len(verdicts) == 0 {
		return nil
	}
	for _, v := range verdicts {
		if v == nil || v.PositionID == "" {
			return storage.ErrInvalidInput
		}
	}
	defer observe("insert_verdicts", time.Now(), &err)

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO risk_verdicts (`+verdictColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, v := range verdicts {
		reasons := make([]string, len(v.TriggeredBy))
		for i, r := range v.TriggeredBy {
			reasons[i] = string(r)
		}
		err = batch.Append(
			v.CycleID, v.PositionID, v.PoolAddress,
			v.ImpermanentLoss, v.PriceDrawdown, v.VolumeChangePct, v.HealthScore,
			string(v.Action), reasons, string(v.ExitState), v.Err, v.EvaluatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPosition returns up to limit verdicts of a position, newest first.
func (s *VerdictStore) GetByPosition(ctx context.Context, positionID string, limit int) (_ []*domain.RiskVerdict, err error) {
	defer observe("get_verdicts_by_position", time.Now(), &err)

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, `
		SELECT `+verdictColumns+`
		FROM risk_verdicts
		WHERE position_id = ?
		ORDER BY evaluated_at DESC
		LIMIT ?
	`, positionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	return scanVerdicts(rows)
}

// GetByCycle returns the verdicts of one cycle ordered by position ID.
func (s *VerdictStore) GetByCycle(ctx context.Context, cycleID string) (_ []*domain.RiskVerdict, err error) {
	defer observe("get_verdicts_by_cycle", time.Now(), &err)

	rows, err := s.conn.Query(ctx, `
		SELECT `+verdictColumns+`
		FROM risk_verdicts
		WHERE cycle_id = ?
		ORDER BY position_id
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	return scanVerdicts(rows)
}

// chRows is the subset of driver.Rows used by scanVerdicts.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanVerdicts(rows chRows) ([]*domain.RiskVerdict, error) {
	var result []*domain.RiskVerdict
	for rows.Next() {
		var (
			v         domain.RiskVerdict
			action    string
			reasons   []string
			exitState string
		)
		err := rows.Scan(
			&v.CycleID, &v.PositionID, &v.PoolAddress,
			&v.ImpermanentLoss, &v.PriceDrawdown, &v.VolumeChangePct, &v.HealthScore,
			&action, &reasons, &exitState, &v.Err, &v.EvaluatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.Action = domain.Action(action)
		v.ExitState = domain.ExitState(exitState)
		for _, r := range reasons {
			v.TriggeredBy = append(v.TriggeredBy, domain.ReasonCode(r))
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}

func observe(operation string, start time.Time, err *error) {
	observability.RecordDBQuery("clickhouse", operation, time.Since(start).Seconds(), *err)
}
