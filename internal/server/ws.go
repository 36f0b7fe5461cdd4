package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/repository"
	"github.com/voluntapp/postulaciones-service/internal/workflow"
)

// viewHub holds one live repository per subscription scope and refcounts it
// across websocket connections. The hub owns the view's lifetime: the
// subscription opens on first acquire and is torn down when the last
// connection for that scope releases it, so nothing keeps listening for a
// user who is gone.
type viewHub struct {
	logger   *slog.Logger
	store    domain.PostulacionStore
	workflow *workflow.Workflow

	mu    sync.Mutex
	views map[viewKey]*hubView
}

type viewKey struct {
	userID string
	admin  bool
}

type hubView struct {
	repo *repository.PostulacionRepository
	refs int
}

func newViewHub(logger *slog.Logger, store domain.PostulacionStore, wf *workflow.Workflow) *viewHub {
	return &viewHub{
		logger:   logger,
		store:    store,
		workflow: wf,
		views:    make(map[viewKey]*hubView),
	}
}

func keyFor(session domain.Session) viewKey {
	return viewKey{userID: session.UserID, admin: domain.CanViewAll(session)}
}

// acquire returns the live view for the session's scope, creating it on first
// use. The release func must be called exactly once per acquire.
func (h *viewHub) acquire(session domain.Session) (*repository.PostulacionRepository, func()) {
	key := keyFor(session)
	h.mu.Lock()
	v, ok := h.views[key]
	if ok {
		v.refs++
		h.mu.Unlock()
		return v.repo, func() { h.release(key) }
	}
	repo := repository.NewPostulacionRepository(h.logger, h.store, h.workflow)
	v = &hubView{repo: repo, refs: 1}
	h.views[key] = v
	h.mu.Unlock()

	// The view outlives the request that created it, so the subscription is
	// not tied to the request context; Close cancels it on last release.
	if err := repo.SetSession(context.Background(), &session); err != nil {
		h.logger.Error("failed to attach live view", "error", err, "userId", session.UserID)
	}
	return repo, func() { h.release(key) }
}

func (h *viewHub) release(key viewKey) {
	h.mu.Lock()
	v, ok := h.views[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	v.refs--
	if v.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.views, key)
	h.mu.Unlock()
	v.repo.Close()
	h.logger.Info("live view released", "userId", key.userID, "admin", key.admin)
}

// lookup returns the session's live view if one is attached, without
// affecting its refcount.
func (h *viewHub) lookup(session domain.Session) (*repository.PostulacionRepository, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[keyFor(session)]
	if !ok {
		return nil, false
	}
	return v.repo, true
}
