// Package lock provides the per-position exit lock.
package lock

import (
	"context"
	"sync"
	"time"

	"dlmm-risk-manager/internal/domain"
)

// Locker hands out non-blocking, keyed mutual exclusion.
//
// Acquire returns domain.ErrLockHeld when key is already held. On success the
// returned unlock func releases the lock and is safe to call more than once.
// ttl bounds how long a crashed holder can keep a distributed lock; in-process
// implementations may ignore it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*Memory)(nil)

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// Acquire takes key if it is free.
func (m *Memory) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
