package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/storage"
)

func testPosition(id, pool string, createdAt int64) *domain.Position {
	return &domain.Position{
		ID:          id,
		PoolAddress: pool,
		Owner:       "Wallet111",
		Amount:      1_000_000,
		Bins: []domain.BinAllocation{
			{BinID: -1, YAmount: 500_000},
			{BinID: 0, XAmount: 500_000, YAmount: 500_000},
			{BinID: 1, XAmount: 500_000},
		},
		Status:    domain.PositionStatusOpen,
		CreatedAt: createdAt,
	}
}

func TestPositionStore_RecordOpenedAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	p := testPosition("pos-001", "pool-A", 1700000000000)
	require.NoError(t, store.RecordOpened(ctx, p))

	got, err := store.GetByID(ctx, "pos-001")
	require.NoError(t, err)

	assert.Equal(t, p.PoolAddress, got.PoolAddress)
	assert.Equal(t, p.Owner, got.Owner)
	assert.Equal(t, p.Amount, got.Amount)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Equal(t, p.CreatedAt, got.CreatedAt)
	assert.Nil(t, got.ClosedAt)
	assert.Equal(t, p.Bins, got.Bins)
}

func TestPositionStore_RecordOpenedDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-dup", "pool-A", 1)))
	err := store.RecordOpened(ctx, testPosition("pos-dup", "pool-A", 2))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Failed insert must not leave extra bins behind.
	got, err := store.GetByID(ctx, "pos-dup")
	require.NoError(t, err)
	assert.Len(t, got.Bins, 3)
}

func TestPositionStore_RejectsAmountsBeyondBigint(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	huge := testPosition("pos-huge", "pool-A", 1)
	huge.Amount = uint64(storage.MaxAmount) + 1
	assert.ErrorIs(t, store.RecordOpened(ctx, huge), storage.ErrInvalidInput)

	hugeBin := testPosition("pos-huge-bin", "pool-A", 1)
	hugeBin.Bins[0].XAmount = uint64(storage.MaxAmount) + 1
	assert.ErrorIs(t, store.RecordOpened(ctx, hugeBin), storage.ErrInvalidInput)

	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-ok", "pool-A", 1)))
	assert.ErrorIs(t, store.RecordLiquidityAdded(ctx, "pos-ok", uint64(storage.MaxAmount)+1), storage.ErrInvalidInput)

	got, err := store.GetByID(ctx, "pos-ok")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), got.Amount)
}

func TestPositionStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_MarkClosed(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-close", "pool-A", 1)))
	require.NoError(t, store.MarkClosed(ctx, "pos-close", "closesig", 1700000005000))

	got, err := store.GetByID(ctx, "pos-close")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, int64(1700000005000), *got.ClosedAt)
	assert.Equal(t, "closesig", got.CloseSignature)
	assert.Len(t, got.Bins, 3)

	assert.ErrorIs(t, store.MarkClosed(ctx, "pos-close", "again", 1), storage.ErrNotOpen)
	assert.ErrorIs(t, store.MarkClosed(ctx, "missing", "sig", 1), storage.ErrNotFound)
}

func TestPositionStore_MarkClosedConcurrent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()
	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-race", "pool-A", 1)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.MarkClosed(ctx, "pos-race", "sig", 2); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestPositionStore_RecordLiquidityAdded(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-add", "pool-A", 1)))
	require.NoError(t, store.RecordLiquidityAdded(ctx, "pos-add", 250_000))

	got, err := store.GetByID(ctx, "pos-add")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000), got.Amount)
	assert.Len(t, got.Bins, 3)

	require.NoError(t, store.MarkClosed(ctx, "pos-add", "sig", 2))
	assert.ErrorIs(t, store.RecordLiquidityAdded(ctx, "pos-add", 1), storage.ErrNotOpen)
	assert.ErrorIs(t, store.RecordLiquidityAdded(ctx, "missing", 1), storage.ErrNotFound)
}

func TestPositionStore_Listing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-c", "pool-A", 300)))
	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-a", "pool-B", 100)))
	require.NoError(t, store.RecordOpened(ctx, testPosition("pos-b", "pool-A", 200)))
	require.NoError(t, store.MarkClosed(ctx, "pos-b", "sig", 400))

	open, err := store.ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-a", "pos-c"}, positionIDs(open))
	for _, p := range open {
		assert.Len(t, p.Bins, 3)
	}

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-a", "pos-b", "pos-c"}, positionIDs(all))

	closed, err := store.List(ctx, domain.PositionStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-b"}, positionIDs(closed))

	byPool, err := store.ListByPool(ctx, "pool-A", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-b", "pos-c"}, positionIDs(byPool))

	openByPool, err := store.ListByPool(ctx, "pool-A", domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-c"}, positionIDs(openByPool))
}

func positionIDs(ps []*domain.Position) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
