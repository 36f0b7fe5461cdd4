package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/store"
	"github.com/voluntapp/postulaciones-service/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepo(t *testing.T, s *store.MemoryStore) *PostulacionRepository {
	t.Helper()
	wf := workflow.New(testLogger(), s, NewMemoryTransitionLog(), workflow.NewMemoryPendingStore())
	repo := NewPostulacionRepository(testLogger(), s, wf)
	t.Cleanup(repo.Close)
	return repo
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v", msg)
}

func seed(s *store.MemoryStore, id, estudianteID string, createdAt time.Time, status domain.Status) {
	s.Put(domain.Postulacion{
		ID:           id,
		EstudianteID: estudianteID,
		Status:       status,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	})
}

func TestSnapshotOrderedByCreatedAtDesc(t *testing.T) {
	s := store.NewMemoryStore()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(s, "p1", "u1", base.Add(1*time.Hour), domain.StatusPending)
	seed(s, "p2", "u1", base.Add(3*time.Hour), domain.StatusPending)
	seed(s, "p3", "u1", base.Add(2*time.Hour), domain.StatusPending)

	repo := newTestRepo(t, s)
	session := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &session))

	waitFor(t, "initial snapshot", func() bool { return len(repo.Snapshot()) == 3 })

	snap := repo.Snapshot()
	for i := 0; i < len(snap)-1; i++ {
		assert.False(t, snap[i].CreatedAt.Before(snap[i+1].CreatedAt),
			"snapshot not ordered at %d: %v before %v", i, snap[i].CreatedAt, snap[i+1].CreatedAt)
	}
	assert.Equal(t, "p2", snap[0].ID)
	assert.Equal(t, "p3", snap[1].ID)
	assert.Equal(t, "p1", snap[2].ID)
}

func TestStudentScopeOnlySeesOwn(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	seed(s, "p1", "u1", now, domain.StatusPending)
	seed(s, "p2", "u2", now, domain.StatusPending)

	repo := newTestRepo(t, s)
	session := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &session))

	waitFor(t, "initial snapshot", func() bool { return len(repo.Snapshot()) == 1 })
	for _, p := range repo.Snapshot() {
		assert.Equal(t, "u1", p.EstudianteID)
	}
}

func TestAdminScopeSeesAll(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	seed(s, "p1", "u1", now, domain.StatusPending)
	seed(s, "p2", "u2", now, domain.StatusPending)

	repo := newTestRepo(t, s)
	session := domain.Session{UserID: "a1", Role: domain.RoleAdmin}
	require.NoError(t, repo.SetSession(context.Background(), &session))

	waitFor(t, "initial snapshot", func() bool { return len(repo.Snapshot()) == 2 })
}

func TestSessionChangeTearsDownPriorSubscription(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	seed(s, "p1", "u1", now, domain.StatusPending)
	seed(s, "p2", "u2", now, domain.StatusPending)

	repo := newTestRepo(t, s)
	u1 := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &u1))
	waitFor(t, "u1 snapshot", func() bool {
		snap := repo.Snapshot()
		return len(snap) == 1 && snap[0].EstudianteID == "u1"
	})

	u2 := domain.Session{UserID: "u2", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &u2))
	waitFor(t, "u2 snapshot", func() bool {
		snap := repo.Snapshot()
		return len(snap) == 1 && snap[0].EstudianteID == "u2"
	})

	// Changes in u1's data must never reach the u2 view.
	require.NoError(t, s.UpdateStatus(context.Background(), "p1", domain.StatusAccepted))
	time.Sleep(50 * time.Millisecond)
	snap := repo.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "u2", snap[0].EstudianteID)
}

func TestLogoutClearsViewAndSubscription(t *testing.T) {
	s := store.NewMemoryStore()
	seed(s, "p1", "u1", time.Now(), domain.StatusPending)

	repo := newTestRepo(t, s)
	session := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &session))
	waitFor(t, "snapshot", func() bool { return len(repo.Snapshot()) == 1 })

	require.NoError(t, repo.SetSession(context.Background(), nil))
	assert.Empty(t, repo.Snapshot())
	assert.False(t, repo.Loading())
	assert.NoError(t, repo.Err())

	// Nothing is delivered to a logged-out view.
	require.NoError(t, s.UpdateStatus(context.Background(), "p1", domain.StatusAccepted))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, repo.Snapshot())
}

func TestSubscriptionErrorKeepsLastSnapshot(t *testing.T) {
	s := store.NewMemoryStore()
	seed(s, "p1", "u1", time.Now(), domain.StatusPending)

	repo := newTestRepo(t, s)
	session := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &session))
	waitFor(t, "snapshot", func() bool { return len(repo.Snapshot()) == 1 })

	s.FailSubscriptions(assert.AnError)
	waitFor(t, "error state", func() bool { return repo.Err() != nil })
	assert.Len(t, repo.Snapshot(), 1, "error must not clear the last-known snapshot")
}

func TestRefreshErrorKeepsListAndSetsError(t *testing.T) {
	s := store.NewMemoryStore()
	seed(s, "p1", "u1", time.Now(), domain.StatusPending)

	repo := newTestRepo(t, s)
	session := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &session))
	waitFor(t, "snapshot", func() bool { return len(repo.Snapshot()) == 1 })

	s.SetQueryErr(assert.AnError)
	err := repo.Refresh(context.Background())
	assert.Error(t, err)
	assert.Len(t, repo.Snapshot(), 1)
	assert.Error(t, repo.Err())

	s.SetQueryErr(nil)
	require.NoError(t, repo.Refresh(context.Background()))
	assert.NoError(t, repo.Err())
}

func TestRefreshWithoutSessionIsNoop(t *testing.T) {
	s := store.NewMemoryStore()
	repo := newTestRepo(t, s)
	assert.NoError(t, repo.Refresh(context.Background()))
	assert.Empty(t, repo.Snapshot())
}

func TestObserveReceivesAppliedSnapshots(t *testing.T) {
	s := store.NewMemoryStore()
	seed(s, "p1", "u1", time.Now(), domain.StatusPending)

	repo := newTestRepo(t, s)
	ch, cancel := repo.Observe()
	defer cancel()

	session := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &session))

	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
		assert.Equal(t, "p1", snap[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observed snapshot")
	}
}

func TestUpdateStatusCommitsAndRefreshes(t *testing.T) {
	s := store.NewMemoryStore()
	seed(s, "p1", "u1", time.Now(), domain.StatusPending)

	repo := newTestRepo(t, s)
	admin := domain.Session{UserID: "a1", Role: domain.RoleAdmin}
	require.NoError(t, repo.SetSession(context.Background(), &admin))
	waitFor(t, "snapshot", func() bool { return len(repo.Snapshot()) == 1 })

	ok, err := repo.UpdateStatus(context.Background(), admin, "p1", domain.StatusAccepted)
	require.NoError(t, err)
	assert.True(t, ok)

	waitFor(t, "accepted status", func() bool {
		snap := repo.Snapshot()
		return len(snap) == 1 && snap[0].Status == domain.StatusAccepted
	})
}

func TestUpdateStatusDeniedForStudent(t *testing.T) {
	s := store.NewMemoryStore()
	seed(s, "p1", "u1", time.Now(), domain.StatusPending)

	repo := newTestRepo(t, s)
	student := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	ok, err := repo.UpdateStatus(context.Background(), student, "p1", domain.StatusAccepted)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, 0, s.Writes(), "denied transition must never reach the store")
}

func TestUpdateStatusWriteFailureLeavesStateUntouched(t *testing.T) {
	s := store.NewMemoryStore()
	seed(s, "p1", "u1", time.Now(), domain.StatusPending)

	repo := newTestRepo(t, s)
	admin := domain.Session{UserID: "a1", Role: domain.RoleAdmin}
	require.NoError(t, repo.SetSession(context.Background(), &admin))
	waitFor(t, "snapshot", func() bool { return len(repo.Snapshot()) == 1 })
	before := repo.Snapshot()[0]

	s.SetWriteErr(assert.AnError)
	ok, err := repo.UpdateStatus(context.Background(), admin, "p1", domain.StatusAccepted)
	assert.False(t, ok)
	assert.Error(t, err)

	after := repo.Snapshot()[0]
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	stored, err := s.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestSortByCreatedAtDescIsStableOnTies(t *testing.T) {
	now := time.Now()
	list := []domain.Postulacion{
		{ID: "b", CreatedAt: now},
		{ID: "a", CreatedAt: now},
		{ID: "c", CreatedAt: now.Add(time.Minute)},
	}
	sorted := SortByCreatedAtDesc(list)
	assert.Equal(t, "c", sorted[0].ID)
	assert.Equal(t, "a", sorted[1].ID)
	assert.Equal(t, "b", sorted[2].ID)
	// input untouched
	assert.Equal(t, "b", list[0].ID)
}

// gatedQueryStore pauses one-shot queries between fetching the result and
// returning it, so a subscription snapshot can land mid-refresh.
type gatedQueryStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedQueryStore) QueryByStudent(ctx context.Context, estudianteID string) ([]domain.Postulacion, error) {
	list, err := g.MemoryStore.QueryByStudent(ctx, estudianteID)
	g.entered <- struct{}{}
	<-g.release
	return list, err
}

func TestRefreshDoesNotOverwriteNewerSubscriptionSnapshot(t *testing.T) {
	gs := &gatedQueryStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(gs.MemoryStore, "p1", "u1", base, domain.StatusPending)

	wf := workflow.New(testLogger(), gs, NewMemoryTransitionLog(), workflow.NewMemoryPendingStore())
	repo := NewPostulacionRepository(testLogger(), gs, wf)
	t.Cleanup(repo.Close)

	session := domain.Session{UserID: "u1", Role: domain.RoleStudent}
	require.NoError(t, repo.SetSession(context.Background(), &session))
	waitFor(t, "initial snapshot", func() bool { return len(repo.Snapshot()) == 1 })

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- repo.Refresh(context.Background()) }()
	<-gs.entered // refresh now holds a one-item result

	// A newer subscription snapshot lands while the fetch is in flight.
	seed(gs.MemoryStore, "p2", "u1", base.Add(time.Hour), domain.StatusPending)
	waitFor(t, "subscription snapshot", func() bool { return len(repo.Snapshot()) == 2 })

	close(gs.release)
	require.NoError(t, <-refreshDone)

	snap := repo.Snapshot()
	require.Len(t, snap, 2, "stale refresh result must not replace the newer snapshot")
	assert.Equal(t, "p2", snap[0].ID)
}
