package repository

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/metrics"
	"github.com/voluntapp/postulaciones-service/internal/workflow"
)

// PostulacionRepository maintains a live, ordered view of the postulaciones
// visible to one session. The remote store is the single source of truth;
// this is a read-through snapshot that updates only on store-confirmed data.
//
// Only one subscription is active at a time. Changing session tears the
// previous one down before attaching, and snapshots from a superseded
// subscription are never applied.
type PostulacionRepository struct {
	logger   *slog.Logger
	store    domain.PostulacionStore
	workflow *workflow.Workflow

	mu        sync.Mutex
	session   *domain.Session
	sub       domain.Subscription
	gen       int
	seq       uint64
	snapshot  []domain.Postulacion
	loading   bool
	lastErr   error
	observers map[int]chan []domain.Postulacion
	nextObsID int
}

func NewPostulacionRepository(logger *slog.Logger, store domain.PostulacionStore, wf *workflow.Workflow) *PostulacionRepository {
	return &PostulacionRepository{
		logger:    logger,
		store:     store,
		workflow:  wf,
		observers: make(map[int]chan []domain.Postulacion),
	}
}

// SetSession switches the view to a new session, resubscribing with the
// session's scope. A nil session (logout) clears the list and holds no open
// subscription.
func (r *PostulacionRepository) SetSession(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	prev := r.sub
	r.sub = nil
	r.gen++
	gen := r.gen
	if session == nil {
		r.session = nil
		r.snapshot = nil
		r.loading = false
		r.lastErr = nil
		r.mu.Unlock()
		if prev != nil {
			prev.Stop()
		}
		r.notifyObservers(nil)
		return nil
	}
	sess := *session
	r.session = &sess
	r.loading = true
	r.lastErr = nil
	r.mu.Unlock()

	// Close the previous subscription before opening the new one so the two
	// never deliver concurrently.
	if prev != nil {
		prev.Stop()
	}

	scope := domain.ScopeStudent(sess.UserID)
	if domain.CanViewAll(sess) {
		scope = domain.ScopeAll()
	}
	sub, err := r.store.Subscribe(ctx, scope)
	if err != nil {
		r.mu.Lock()
		if gen == r.gen {
			r.loading = false
			r.lastErr = err
		}
		r.mu.Unlock()
		r.logger.Error("failed to subscribe", "error", err, "userId", sess.UserID)
		return err
	}

	r.mu.Lock()
	if gen != r.gen {
		// Superseded while subscribing.
		r.mu.Unlock()
		sub.Stop()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()

	go r.consume(gen, sub)
	return nil
}

// Close releases the active subscription and clears the view.
func (r *PostulacionRepository) Close() {
	_ = r.SetSession(context.Background(), nil)
}

func (r *PostulacionRepository) consume(gen int, sub domain.Subscription) {
	snaps, errs := sub.Snapshots(), sub.Errs()
	for snaps != nil || errs != nil {
		select {
		case snap, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			r.apply(gen, snap)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// The list keeps its last-known snapshot so stale data can still
			// be shown alongside the error.
			r.mu.Lock()
			if gen == r.gen {
				r.loading = false
				r.lastErr = err
			}
			r.mu.Unlock()
			r.logger.Error("subscription error", "error", err)
		}
	}
}

func (r *PostulacionRepository) apply(gen int, snap []domain.Postulacion) {
	sorted := SortByCreatedAtDesc(snap)
	r.mu.Lock()
	if gen != r.gen {
		// Snapshot from a torn-down subscription; never deliver it.
		r.mu.Unlock()
		return
	}
	r.snapshot = sorted
	r.loading = false
	r.lastErr = nil
	r.seq++
	r.mu.Unlock()
	metrics.SnapshotsApplied.Inc()
	r.notifyObservers(sorted)
}

// Refresh performs a one-shot fetch with the current session's scope. It does
// not interrupt the live subscription, and a result that lost the race
// against a newer subscription snapshot is dropped.
func (r *PostulacionRepository) Refresh(ctx context.Context) error {
	r.mu.Lock()
	sess := r.session
	gen, seq := r.gen, r.seq
	r.mu.Unlock()
	if sess == nil {
		return nil
	}

	var list []domain.Postulacion
	var err error
	if domain.CanViewAll(*sess) {
		list, err = r.store.QueryAll(ctx)
	} else {
		list, err = r.store.QueryByStudent(ctx, sess.UserID)
	}
	if err != nil {
		metrics.RefreshErrors.Inc()
		r.mu.Lock()
		if gen == r.gen {
			r.lastErr = err
		}
		r.mu.Unlock()
		r.logger.Error("refresh failed", "error", err, "userId", sess.UserID)
		return err
	}

	sorted := SortByCreatedAtDesc(list)
	r.mu.Lock()
	if gen != r.gen || seq != r.seq {
		// A subscription snapshot arrived while we were fetching; the
		// subscription is the source of truth.
		r.mu.Unlock()
		return nil
	}
	r.snapshot = sorted
	r.loading = false
	r.lastErr = nil
	r.seq++
	r.mu.Unlock()
	r.notifyObservers(sorted)
	return nil
}

// UpdateStatus performs the full confirmation-gated transition in one call
// and refreshes the view after a successful commit.
func (r *PostulacionRepository) UpdateStatus(ctx context.Context, session domain.Session, postulacionID string, target domain.Status) (bool, error) {
	pc, err := r.workflow.RequestTransition(ctx, session, postulacionID, target)
	if err != nil {
		return false, err
	}
	if _, err := r.workflow.Confirm(ctx, session, pc.Token); err != nil {
		return false, err
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("refresh after transition failed", "error", err)
	}
	return true, nil
}

// Snapshot returns a copy of the current ordered list.
func (r *PostulacionRepository) Snapshot() []domain.Postulacion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Postulacion, len(r.snapshot))
	copy(out, r.snapshot)
	return out
}

func (r *PostulacionRepository) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

func (r *PostulacionRepository) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Observe registers a channel that receives every applied snapshot. The
// returned cancel func unregisters and closes the channel.
func (r *PostulacionRepository) Observe() (<-chan []domain.Postulacion, func()) {
	r.mu.Lock()
	id := r.nextObsID
	r.nextObsID++
	ch := make(chan []domain.Postulacion, 1)
	r.observers[id] = ch
	r.mu.Unlock()
	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.observers[id]; ok {
			delete(r.observers, id)
			close(c)
		}
	}
	return ch, cancel
}

func (r *PostulacionRepository) notifyObservers(snap []domain.Postulacion) {
	// Sends happen under the lock so a concurrent Observe cancel cannot close
	// a channel mid-send; sends are non-blocking so the lock is never held up
	// by a slow observer.
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.observers {
		// A slow observer only ever misses intermediate snapshots, never the
		// latest one.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// QueryOnce is the stateless read path: fetch with the session's scope and
// apply the same ordering the live view uses.
func QueryOnce(ctx context.Context, store domain.PostulacionStore, session domain.Session) ([]domain.Postulacion, error) {
	var list []domain.Postulacion
	var err error
	if domain.CanViewAll(session) {
		list, err = store.QueryAll(ctx)
	} else {
		list, err = store.QueryByStudent(ctx, session.UserID)
	}
	if err != nil {
		return nil, err
	}
	return SortByCreatedAtDesc(list), nil
}

// SortByCreatedAtDesc returns a copy ordered most recently created first,
// with the id as a deterministic tie-break.
func SortByCreatedAtDesc(list []domain.Postulacion) []domain.Postulacion {
	out := make([]domain.Postulacion, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
