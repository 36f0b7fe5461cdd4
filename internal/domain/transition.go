package domain

import (
	"context"
	"time"
)

// TransitionRecord is one committed status change, kept so administrators can
// see who changed what when correcting a decision.
type TransitionRecord struct {
	ID            string    `json:"id"`
	PostulacionID string    `json:"postulacionId"`
	ActorUserID   string    `json:"actorUserId"`
	FromStatus    Status    `json:"fromStatus"`
	ToStatus      Status    `json:"toStatus"`
	CreatedAt     time.Time `json:"createdAt"`
}

type TransitionLogRepository interface {
	Record(context.Context, TransitionRecord) error
	ListByPostulacion(ctx context.Context, postulacionID string) ([]TransitionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]TransitionRecord, error)
}
