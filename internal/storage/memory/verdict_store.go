package memory

import (
	"context"
	"sort"
	"sync"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/storage"
)

// VerdictStore is an in-memory implementation of storage.VerdictStore.
type VerdictStore struct {
	mu   sync.RWMutex
	data []*domain.RiskVerdict
}

var _ storage.VerdictStore = (*VerdictStore)(nil)

// NewVerdictStore creates a new in-memory verdict store.
func NewVerdictStore() *VerdictStore {
	return &VerdictStore{}
}

// InsertBulk appends verdicts.
func (s *VerdictStore) InsertBulk(_ context.Context, verdicts []*domain.RiskVerdict) error {
	for _, v := range verdicts {
		if v == nil || v.PositionID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range verdicts {
		s.data = append(s.data, cloneVerdict(v))
	}
	return nil
}

// GetByPosition returns up to limit verdicts of a position, newest first.
func (s *VerdictStore) GetByPosition(_ context.Context, positionID string, limit int) ([]*domain.RiskVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RiskVerdict
	for i := len(s.data) - 1; i >= 0; i-- {
		if s.data[i].PositionID == positionID {
			result = append(result, cloneVerdict(s.data[i]))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EvaluatedAt > result[j].EvaluatedAt
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetByCycle returns the verdicts of one cycle ordered by position ID.
func (s *VerdictStore) GetByCycle(_ context.Context, cycleID string) ([]*domain.RiskVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RiskVerdict
	for _, v := range s.data {
		if v.CycleID == cycleID {
			result = append(result, cloneVerdict(v))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionID < result[j].PositionID })
	return result, nil
}

func cloneVerdict(v *domain.RiskVerdict) *domain.RiskVerdict {
	cp := *v
	cp.TriggeredBy = append([]domain.ReasonCode(nil), v.TriggeredBy...)
	if v.VolumeChangePct != nil {
		vc := *v.VolumeChangePct
		cp.VolumeChangePct = &vc
	}
	return &cp
}
