package repository

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/voluntapp/postulaciones-service/internal/domain"
)

// Connection is the subset of pgxpool.Pool the repositories use.
type Connection interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type postgresTransitionLog struct {
	conn Connection
}

func NewPostgresTransitionLog(conn Connection) domain.TransitionLogRepository {
	return &postgresTransitionLog{conn: conn}
}

// Record implements domain.TransitionLogRepository.
func (p *postgresTransitionLog) Record(ctx context.Context, rec domain.TransitionRecord) error {
	query := `
		INSERT INTO transition_log (id, postulacion_id, actor_user_id, from_status, to_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := p.conn.Exec(ctx, query, rec.ID, rec.PostulacionID, rec.ActorUserID, string(rec.FromStatus), string(rec.ToStatus), rec.CreatedAt)
	return err
}

// ListByPostulacion implements domain.TransitionLogRepository.
func (p *postgresTransitionLog) ListByPostulacion(ctx context.Context, postulacionID string) ([]domain.TransitionRecord, error) {
	dtos := make([]transitionDto, 0)
	query := `
		SELECT * FROM transition_log
		WHERE postulacion_id = $1
		ORDER BY created_at DESC`
	err := pgxscan.Select(ctx, p.conn, &dtos, query, postulacionID)
	if err != nil {
		return nil, err
	}
	return mapDtoTransitions(dtos), nil
}

// ListRecent implements domain.TransitionLogRepository.
func (p *postgresTransitionLog) ListRecent(ctx context.Context, limit int) ([]domain.TransitionRecord, error) {
	dtos := make([]transitionDto, 0)
	query := `
		SELECT * FROM transition_log
		ORDER BY created_at DESC
		LIMIT $1`
	err := pgxscan.Select(ctx, p.conn, &dtos, query, limit)
	if err != nil {
		return nil, err
	}
	return mapDtoTransitions(dtos), nil
}

type transitionDto struct {
	ID            string
	PostulacionId string
	ActorUserId   string
	FromStatus    string
	ToStatus      string
	CreatedAt     time.Time
}

func mapDtoTransitions(dtos []transitionDto) []domain.TransitionRecord {
	records := make([]domain.TransitionRecord, 0, len(dtos))
	for _, dto := range dtos {
		records = append(records, domain.TransitionRecord{
			ID:            dto.ID,
			PostulacionID: dto.PostulacionId,
			ActorUserID:   dto.ActorUserId,
			FromStatus:    domain.Status(dto.FromStatus),
			ToStatus:      domain.Status(dto.ToStatus),
			CreatedAt:     dto.CreatedAt,
		})
	}
	return records
}
