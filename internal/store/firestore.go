package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	postulacionesCollection = "postulaciones"
	oportunidadesCollection = "oportunidades"
)

// FirestoreStore reads and writes the postulaciones collection. It implements
// both domain.PostulacionStore and domain.OpportunityStore.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{client: client, logger: logger}
}

func (s *FirestoreStore) scopeQuery(scope domain.Scope) firestore.Query {
	col := s.client.Collection(postulacionesCollection)
	if scope.All {
		return col.Query
	}
	// Equality filter only; ordering happens client-side so no composite
	// index is required.
	return col.Where("estudianteId", "==", scope.EstudianteID)
}

// GetByID implements domain.PostulacionStore.
func (s *FirestoreStore) GetByID(ctx context.Context, id string) (domain.Postulacion, error) {
	doc, err := s.client.Collection(postulacionesCollection).Doc(id).Get(ctx)
	if err != nil {
		if grpcstatus.Code(err) == codes.NotFound {
			return domain.Postulacion{}, domain.ErrNotFound
		}
		return domain.Postulacion{}, fmt.Errorf("failed to get postulacion %v: %w", id, err)
	}
	return docToPostulacion(doc)
}

// QueryByStudent implements domain.PostulacionStore.
func (s *FirestoreStore) QueryByStudent(ctx context.Context, estudianteID string) ([]domain.Postulacion, error) {
	return s.fetch(ctx, domain.ScopeStudent(estudianteID))
}

// QueryAll implements domain.PostulacionStore.
func (s *FirestoreStore) QueryAll(ctx context.Context) ([]domain.Postulacion, error) {
	return s.fetch(ctx, domain.ScopeAll())
}

func (s *FirestoreStore) fetch(ctx context.Context, scope domain.Scope) ([]domain.Postulacion, error) {
	docs, err := s.scopeQuery(scope).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query postulaciones: %w", err)
	}
	postulaciones := make([]domain.Postulacion, 0, len(docs))
	for _, doc := range docs {
		p, err := docToPostulacion(doc)
		if err != nil {
			s.logger.Error("skipping malformed postulacion document", "error", err, "docId", doc.Ref.ID)
			continue
		}
		postulaciones = append(postulaciones, p)
	}
	return postulaciones, nil
}

// Subscribe implements domain.PostulacionStore. The returned subscription
// pushes a full snapshot on every remote change until Stop is called.
func (s *FirestoreStore) Subscribe(ctx context.Context, scope domain.Scope) (domain.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreSubscription{
		cancel: cancel,
		snaps:  make(chan []domain.Postulacion, 1),
		errs:   make(chan error, 1),
	}
	go s.listen(ctx, scope, sub)
	return sub, nil
}

func (s *FirestoreStore) listen(ctx context.Context, scope domain.Scope, sub *firestoreSubscription) {
	defer close(sub.snaps)
	defer close(sub.errs)
	it := s.scopeQuery(scope).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || grpcstatus.Code(err) == codes.Canceled {
				return
			}
			select {
			case sub.errs <- err:
			case <-ctx.Done():
			}
			return
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			select {
			case sub.errs <- err:
			case <-ctx.Done():
			}
			return
		}
		postulaciones := make([]domain.Postulacion, 0, len(docs))
		for _, doc := range docs {
			p, err := docToPostulacion(doc)
			if err != nil {
				s.logger.Error("skipping malformed postulacion document", "error", err, "docId", doc.Ref.ID)
				continue
			}
			postulaciones = append(postulaciones, p)
		}
		select {
		case sub.snaps <- postulaciones:
		case <-ctx.Done():
			return
		}
	}
}

// UpdateStatus implements domain.PostulacionStore. Single-document write with
// a server-resolved updatedAt; last write wins across concurrent admins.
func (s *FirestoreStore) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := s.client.Collection(postulacionesCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if grpcstatus.Code(err) == codes.NotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to update status of %v: %w", id, err)
	}
	return nil
}

// GetOpportunity implements domain.OpportunityStore.
func (s *FirestoreStore) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	doc, err := s.client.Collection(oportunidadesCollection).Doc(id).Get(ctx)
	if err != nil {
		if grpcstatus.Code(err) == codes.NotFound {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("failed to get oportunidad %v: %w", id, err)
	}
	var o domain.Opportunity
	if err := doc.DataTo(&o); err != nil {
		return domain.Opportunity{}, fmt.Errorf("failed to decode oportunidad %v: %w", doc.Ref.ID, err)
	}
	o.ID = doc.Ref.ID
	return o, nil
}

func docToPostulacion(doc *firestore.DocumentSnapshot) (domain.Postulacion, error) {
	var p domain.Postulacion
	if err := doc.DataTo(&p); err != nil {
		return domain.Postulacion{}, fmt.Errorf("failed to decode postulacion %v: %w", doc.Ref.ID, err)
	}
	p.ID = doc.Ref.ID
	normalizeTimestamps(&p)
	return p, nil
}

// normalizeTimestamps resolves server-timestamp sentinels that the store has
// not populated yet. The UI must never see a zero time, so unresolved fields
// fall back to the best available value and only then to now.
func normalizeTimestamps(p *domain.Postulacion) {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		if !p.ApplicationDate.IsZero() {
			p.CreatedAt = p.ApplicationDate
		} else {
			p.CreatedAt = now
		}
	}
	if p.ApplicationDate.IsZero() {
		p.ApplicationDate = p.CreatedAt
	}
	if p.UpdatedAt.IsZero() || p.UpdatedAt.Before(p.CreatedAt) {
		p.UpdatedAt = p.CreatedAt
	}
}

type firestoreSubscription struct {
	cancel context.CancelFunc
	snaps  chan []domain.Postulacion
	errs   chan error
}

func (s *firestoreSubscription) Snapshots() <-chan []domain.Postulacion { return s.snaps }
func (s *firestoreSubscription) Errs() <-chan error                    { return s.errs }
func (s *firestoreSubscription) Stop()                                 { s.cancel() }
