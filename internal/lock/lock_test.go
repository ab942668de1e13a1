package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmm-risk-manager/internal/domain"
)

func TestMemory_AcquireRelease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	unlock, err := m.Acquire(ctx, "pos-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, m.Held("pos-1"))

	_, err = m.Acquire(ctx, "pos-1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// Other keys are independent.
	unlock2, err := m.Acquire(ctx, "pos-2", time.Minute)
	require.NoError(t, err)
	unlock2()

	unlock()
	unlock() // idempotent
	assert.False(t, m.Held("pos-1"))

	unlock, err = m.Acquire(ctx, "pos-1", time.Minute)
	require.NoError(t, err)
	unlock()
}

func TestMemory_OnlyOneWinner(t *testing.T) {
	m := NewMemory()
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := m.Acquire(context.Background(), "pos", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
