package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmm-risk-manager/internal/domain"
)

func TestVerdictStore_InsertBulkAndGetByPosition(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewVerdictStore(conn)
	ctx := context.Background()

	vc := -12.5
	verdicts := []*domain.RiskVerdict{
		{
			CycleID: "cycle-1", PositionID: "pos-1", PoolAddress: "pool-A",
			ImpermanentLoss: 0.001, PriceDrawdown: 0.01, HealthScore: 92,
			Action: domain.ActionContinue, EvaluatedAt: 1000,
		},
		{
			CycleID: "cycle-2", PositionID: "pos-1", PoolAddress: "pool-A",
			ImpermanentLoss: 0.02, PriceDrawdown: 0.1, VolumeChangePct: &vc, HealthScore: 10,
			Action:      domain.ActionExit,
			TriggeredBy: []domain.ReasonCode{domain.ReasonImpermanentLoss, domain.ReasonStopLoss},
			ExitState:   domain.ExitStateFailed, Err: "submission failed",
			EvaluatedAt: 2000,
		},
		{CycleID: "cycle-2", PositionID: "pos-2", PoolAddress: "pool-B", Action: domain.ActionContinue, EvaluatedAt: 2000},
	}
	require.NoError(t, store.InsertBulk(ctx, verdicts))

	got, err := store.GetByPosition(ctx, "pos-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "cycle-2", got[0].CycleID)
	assert.Equal(t, domain.ActionExit, got[0].Action)
	assert.Equal(t, []domain.ReasonCode{domain.ReasonImpermanentLoss, domain.ReasonStopLoss}, got[0].TriggeredBy)
	assert.Equal(t, domain.ExitStateFailed, got[0].ExitState)
	assert.Equal(t, "submission failed", got[0].Err)
	require.NotNil(t, got[0].VolumeChangePct)
	assert.InDelta(t, -12.5, *got[0].VolumeChangePct, 1e-9)

	assert.Equal(t, "cycle-1", got[1].CycleID)
	assert.Nil(t, got[1].VolumeChangePct)
	assert.Empty(t, got[1].TriggeredBy)

	limited, err := store.GetByPosition(ctx, "pos-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestVerdictStore_GetByCycle(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewVerdictStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.RiskVerdict{
		{CycleID: "c-1", PositionID: "pos-b", Action: domain.ActionContinue, EvaluatedAt: 1},
		{CycleID: "c-1", PositionID: "pos-a", Action: domain.ActionContinue, EvaluatedAt: 1},
		{CycleID: "c-2", PositionID: "pos-a", Action: domain.ActionContinue, EvaluatedAt: 2},
	}))

	got, err := store.GetByCycle(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pos-a", got[0].PositionID)
	assert.Equal(t, "pos-b", got[1].PositionID)
}

func TestVerdictStore_InsertBulkEmpty(t *testing.T) {
	store := NewVerdictStore(nil)
	assert.NoError(t, store.InsertBulk(context.Background(), nil))
}
