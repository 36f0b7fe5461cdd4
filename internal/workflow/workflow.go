package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/metrics"
)

const defaultConfirmationTTL = 2 * time.Minute

// Workflow drives status transitions: who may transition, the two-step
// confirmation gate, and the commit against the store. The local view is
// never mutated optimistically; callers re-fetch after a successful commit
// or wait for the subscription echo.
type Workflow struct {
	logger  *slog.Logger
	store   domain.PostulacionStore
	audit   domain.TransitionLogRepository
	pending PendingStore
	ttl     time.Duration
}

type Option func(*Workflow)

// WithConfirmationTTL overrides how long a requested transition stays
// confirmable.
func WithConfirmationTTL(ttl time.Duration) Option {
	return func(w *Workflow) {
		w.ttl = ttl
	}
}

func New(logger *slog.Logger, store domain.PostulacionStore, audit domain.TransitionLogRepository, pending PendingStore, opts ...Option) *Workflow {
	w := &Workflow{
		logger:  logger,
		store:   store,
		audit:   audit,
		pending: pending,
		ttl:     defaultConfirmationTTL,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RequestTransition validates the caller and target and parks the transition
// behind a confirmation token. Nothing is written yet. A non-admin session is
// rejected here, before the store is ever reached.
func (w *Workflow) RequestTransition(ctx context.Context, session domain.Session, postulacionID string, target domain.Status) (PendingConfirmation, error) {
	if !domain.CanAdminister(session) {
		return PendingConfirmation{}, domain.ErrPermissionDenied
	}
	if !target.Valid() {
		return PendingConfirmation{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, target)
	}
	p, err := w.store.GetByID(ctx, postulacionID)
	if err != nil {
		return PendingConfirmation{}, err
	}
	pc := PendingConfirmation{
		Token:         uuid.NewString(),
		PostulacionID: p.ID,
		From:          p.Status,
		Target:        target,
		Prompt:        fmt.Sprintf("¿Cambiar el estado de la postulación a %q?", target.Label()),
		RequestedBy:   session.UserID,
		ExpiresAt:     time.Now().Add(w.ttl),
	}
	if err := w.pending.Put(ctx, pc); err != nil {
		return PendingConfirmation{}, err
	}
	return pc, nil
}

// Confirm commits a previously requested transition. The confirmation is
// consumed either way: on a failed write the admin has to request again,
// which reproduces the accidental-tap guard on retry.
func (w *Workflow) Confirm(ctx context.Context, session domain.Session, token string) (domain.TransitionRecord, error) {
	if !domain.CanAdminister(session) {
		return domain.TransitionRecord{}, domain.ErrPermissionDenied
	}
	pc, err := w.pending.Take(ctx, token)
	if err != nil {
		return domain.TransitionRecord{}, err
	}
	if err := w.store.UpdateStatus(ctx, pc.PostulacionID, pc.Target); err != nil {
		metrics.TransitionFailures.Inc()
		w.logger.Error("failed to commit transition", "error", err, "postulacionId", pc.PostulacionID, "target", pc.Target)
		return domain.TransitionRecord{}, err
	}
	record := domain.TransitionRecord{
		ID:            uuid.NewString(),
		PostulacionID: pc.PostulacionID,
		ActorUserID:   session.UserID,
		FromStatus:    pc.From,
		ToStatus:      pc.Target,
		CreatedAt:     time.Now(),
	}
	// The transition already committed; a failed audit write is logged but
	// does not roll anything back.
	if err := w.audit.Record(ctx, record); err != nil {
		w.logger.Error("failed to record transition", "error", err, "postulacionId", pc.PostulacionID)
	}
	metrics.TransitionsTotal.WithLabelValues(string(pc.Target)).Inc()
	w.logger.Info("transition committed", "postulacionId", pc.PostulacionID, "from", pc.From, "to", pc.Target, "actor", session.UserID)
	return record, nil
}
