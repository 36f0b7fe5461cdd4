package repository

import (
	"context"
	"sync"

	"github.com/voluntapp/postulaciones-service/internal/domain"
)

type memoryTransitionLog struct {
	mu      sync.Mutex
	records []domain.TransitionRecord
	err     error
}

// NewMemoryTransitionLog keeps transition records in memory. Used by tests
// and store-only local setups.
func NewMemoryTransitionLog() domain.TransitionLogRepository {
	return &memoryTransitionLog{}
}

func (m *memoryTransitionLog) Record(ctx context.Context, rec domain.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryTransitionLog) ListByPostulacion(ctx context.Context, postulacionID string) ([]domain.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TransitionRecord, 0)
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].PostulacionID == postulacionID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memoryTransitionLog) ListRecent(ctx context.Context, limit int) ([]domain.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TransitionRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}
