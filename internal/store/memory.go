package store

import (
	"context"
	"sync"
	"time"

	"github.com/voluntapp/postulaciones-service/internal/domain"
)

// MemoryStore is an in-process implementation of the document store. It backs
// tests and local development, emitting synthetic snapshots on every write
// the same way the remote listener does.
type MemoryStore struct {
	mu            sync.Mutex
	postulaciones map[string]domain.Postulacion
	oportunidades map[string]domain.Opportunity
	subs          map[int]*memorySubscription
	nextSubID     int
	writeErr      error
	queryErr      error
	writes        int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		postulaciones: make(map[string]domain.Postulacion),
		oportunidades: make(map[string]domain.Opportunity),
		subs:          make(map[int]*memorySubscription),
	}
}

// Put inserts or replaces a postulación and notifies matching subscribers.
func (s *MemoryStore) Put(p domain.Postulacion) {
	s.mu.Lock()
	s.postulaciones[p.ID] = p
	s.mu.Unlock()
	s.broadcast()
}

func (s *MemoryStore) PutOpportunity(o domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oportunidades[o.ID] = o
}

// SetWriteErr makes every subsequent UpdateStatus fail with err. Pass nil to
// restore normal behaviour.
func (s *MemoryStore) SetWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// SetQueryErr makes every subsequent one-shot query fail with err. Pass nil
// to restore normal behaviour.
func (s *MemoryStore) SetQueryErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// Writes reports how many UpdateStatus calls reached the store.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailSubscriptions pushes err to every open subscription, simulating the
// store becoming unreachable mid-subscription.
func (s *MemoryStore) FailSubscriptions(err error) {
	s.mu.Lock()
	subs := make([]*memorySubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.pushErr(err)
	}
}

// GetByID implements domain.PostulacionStore.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (domain.Postulacion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.postulaciones[id]
	if !ok {
		return domain.Postulacion{}, domain.ErrNotFound
	}
	return p, nil
}

// QueryByStudent implements domain.PostulacionStore.
func (s *MemoryStore) QueryByStudent(ctx context.Context, estudianteID string) ([]domain.Postulacion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.matching(domain.ScopeStudent(estudianteID)), nil
}

// QueryAll implements domain.PostulacionStore.
func (s *MemoryStore) QueryAll(ctx context.Context) ([]domain.Postulacion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.matching(domain.ScopeAll()), nil
}

// Subscribe implements domain.PostulacionStore. The initial snapshot is
// delivered immediately.
func (s *MemoryStore) Subscribe(ctx context.Context, scope domain.Scope) (domain.Subscription, error) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	sub := &memorySubscription{
		store: s,
		id:    id,
		scope: scope,
		snaps: make(chan []domain.Postulacion, 16),
		errs:  make(chan error, 1),
	}
	s.subs[id] = sub
	initial := s.matching(scope)
	s.mu.Unlock()
	sub.push(initial)
	return sub, nil
}

// UpdateStatus implements domain.PostulacionStore.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	p, ok := s.postulaciones[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	s.postulaciones[id] = p
	s.writes++
	s.mu.Unlock()
	s.broadcast()
	return nil
}

// GetOpportunity implements domain.OpportunityStore.
func (s *MemoryStore) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.oportunidades[id]
	if !ok {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) matching(scope domain.Scope) []domain.Postulacion {
	out := make([]domain.Postulacion, 0, len(s.postulaciones))
	for _, p := range s.postulaciones {
		if scope.All || p.EstudianteID == scope.EstudianteID {
			out = append(out, p)
		}
	}
	return out
}

func (s *MemoryStore) broadcast() {
	s.mu.Lock()
	type delivery struct {
		sub  *memorySubscription
		snap []domain.Postulacion
	}
	deliveries := make([]delivery, 0, len(s.subs))
	for _, sub := range s.subs {
		deliveries = append(deliveries, delivery{sub: sub, snap: s.matching(sub.scope)})
	}
	s.mu.Unlock()
	for _, d := range deliveries {
		d.sub.push(d.snap)
	}
}

func (s *MemoryStore) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

type memorySubscription struct {
	store *MemoryStore
	id    int
	scope domain.Scope

	mu      sync.Mutex
	stopped bool
	snaps   chan []domain.Postulacion
	errs    chan error
}

func (m *memorySubscription) Snapshots() <-chan []domain.Postulacion { return m.snaps }
func (m *memorySubscription) Errs() <-chan error                    { return m.errs }

func (m *memorySubscription) Stop() {
	m.store.unsubscribe(m.id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.snaps)
	close(m.errs)
}

func (m *memorySubscription) push(snap []domain.Postulacion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	select {
	case m.snaps <- snap:
	default:
	}
}

func (m *memorySubscription) pushErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	select {
	case m.errs <- err:
	default:
	}
}
