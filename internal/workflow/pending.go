package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/voluntapp/postulaciones-service/internal/domain"
)

// PendingConfirmation is a requested transition waiting for the human
// confirmation gate. It names the target state in human-readable form so the
// prompt shown to the admin matches what will be committed.
type PendingConfirmation struct {
	Token         string        `json:"token"`
	PostulacionID string        `json:"postulacionId"`
	From          domain.Status `json:"from"`
	Target        domain.Status `json:"target"`
	Prompt        string        `json:"prompt"`
	RequestedBy   string        `json:"requestedBy"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}

// PendingStore holds confirmations between request and commit. Take removes
// the confirmation whether or not the subsequent commit succeeds, so a failed
// write clears the dialog state and the admin must re-request to retry.
type PendingStore interface {
	Put(ctx context.Context, pc PendingConfirmation) error
	Take(ctx context.Context, token string) (PendingConfirmation, error)
}

type memoryPendingStore struct {
	mu      sync.Mutex
	pending map[string]PendingConfirmation
}

// NewMemoryPendingStore keeps confirmations in process memory. Suitable for
// tests and single-instance deployments.
func NewMemoryPendingStore() PendingStore {
	return &memoryPendingStore{pending: make(map[string]PendingConfirmation)}
}

func (m *memoryPendingStore) Put(ctx context.Context, pc PendingConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[pc.Token] = pc
	return nil
}

func (m *memoryPendingStore) Take(ctx context.Context, token string) (PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pending[token]
	if !ok {
		return PendingConfirmation{}, domain.ErrConfirmationNotFound
	}
	delete(m.pending, token)
	if time.Now().After(pc.ExpiresAt) {
		return PendingConfirmation{}, domain.ErrConfirmationNotFound
	}
	return pc, nil
}
