package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/repository"
	"github.com/voluntapp/postulaciones-service/internal/store"
	"github.com/voluntapp/postulaciones-service/internal/workflow"
	"golang.org/x/crypto/bcrypt"
)

var (
	adminSession   = domain.Session{UserID: "a1", Role: domain.RoleAdmin}
	studentSession = domain.Session{UserID: "u1", Role: domain.RoleStudent}
)

func newTestServer(t *testing.T, s *store.MemoryStore, serviceKeyHash string) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transitionLog := repository.NewMemoryTransitionLog()
	wf := workflow.New(logger, s, transitionLog, workflow.NewMemoryPendingStore())
	srv, err := NewServer(context.Background(), logger, nil, nil, s, s, wf, transitionLog, serviceKeyHash)
	require.NoError(t, err)
	return srv
}

func seedStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Put(domain.Postulacion{ID: "p1", EstudianteID: "u1", OportunidadID: "o1", Status: domain.StatusPending, CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)})
	s.Put(domain.Postulacion{ID: "p2", EstudianteID: "u2", OportunidadID: "o2", Status: domain.StatusPending, CreatedAt: base, UpdatedAt: base})
	s.PutOpportunity(domain.Opportunity{ID: "o1", Titulo: "Reforestación", Organizacion: "EcoBosque"})
	return s
}

func requestWithSession(method, target string, body any, session domain.Session) *http.Request {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	r := httptest.NewRequest(method, target, reader)
	return r.WithContext(NewSessionContext(r.Context(), session))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestListPostulacionesScopedToStudent(t *testing.T) {
	srv := newTestServer(t, seedStore(), "")
	w := httptest.NewRecorder()
	srv.handleListPostulaciones(w, requestWithSession("GET", "/api/postulaciones", nil, studentSession))

	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Postulaciones, 1)
	assert.Equal(t, "u1", resp.Postulaciones[0].EstudianteID)
}

func TestListPostulacionesAdminSeesAllOrdered(t *testing.T) {
	srv := newTestServer(t, seedStore(), "")
	w := httptest.NewRecorder()
	srv.handleListPostulaciones(w, requestWithSession("GET", "/api/postulaciones", nil, adminSession))

	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Postulaciones, 2)
	assert.Equal(t, "p1", resp.Postulaciones[0].ID, "most recently created first")
	assert.Equal(t, "p2", resp.Postulaciones[1].ID)
}

func TestGetPostulacionDetail(t *testing.T) {
	srv := newTestServer(t, seedStore(), "")

	w := httptest.NewRecorder()
	r := requestWithSession("GET", "/api/postulaciones/p1", nil, studentSession)
	srv.handleGetPostulacion(w, withURLParam(r, "postulacion-id", "p1"))

	require.Equal(t, http.StatusOK, w.Code)
	var resp postulacionDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.Postulacion.ID)
	require.NotNil(t, resp.Oportunidad)
	assert.Equal(t, "Reforestación", resp.Oportunidad.Titulo)
}

func TestGetPostulacionDeniedForOtherStudent(t *testing.T) {
	srv := newTestServer(t, seedStore(), "")

	w := httptest.NewRecorder()
	r := requestWithSession("GET", "/api/postulaciones/p2", nil, studentSession)
	srv.handleGetPostulacion(w, withURLParam(r, "postulacion-id", "p2"))

	require.Equal(t, http.StatusForbidden, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "permission_denied", resp.Kind)
}

func TestTransitionRoundtrip(t *testing.T) {
	s := seedStore()
	srv := newTestServer(t, s, "")

	w := httptest.NewRecorder()
	r := requestWithSession("POST", "/api/postulaciones/p1/transition", requestTransitionInput{Status: "accepted"}, adminSession)
	srv.handleRequestTransition(w, withURLParam(r, "postulacion-id", "p1"))
	require.Equal(t, http.StatusOK, w.Code)

	var pc workflow.PendingConfirmation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pc))
	assert.NotEmpty(t, pc.Token)
	assert.Contains(t, pc.Prompt, domain.StatusAccepted.Label())

	w = httptest.NewRecorder()
	srv.handleConfirmTransition(w, requestWithSession("POST", "/api/transitions/confirm", confirmTransitionInput{Token: pc.Token}, adminSession))
	require.Equal(t, http.StatusOK, w.Code)

	var confirmed confirmTransitionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmed))
	assert.True(t, confirmed.OK)
	assert.Equal(t, domain.StatusAccepted, confirmed.Record.ToStatus)

	stored, err := s.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, stored.Status)

	// The committed transition shows up in the admin audit view.
	w = httptest.NewRecorder()
	srv.handleTransitionLog(w, requestWithSession("GET", "/api/transitions/log?postulacion=p1", nil, adminSession))
	require.Equal(t, http.StatusOK, w.Code)
	var logResp transitionLogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logResp))
	require.Len(t, logResp.Records, 1)
	assert.Equal(t, "a1", logResp.Records[0].ActorUserID)
}

func TestRequestTransitionDeniedForStudent(t *testing.T) {
	s := seedStore()
	srv := newTestServer(t, s, "")

	w := httptest.NewRecorder()
	r := requestWithSession("POST", "/api/postulaciones/p1/transition", requestTransitionInput{Status: "accepted"}, studentSession)
	srv.handleRequestTransition(w, withURLParam(r, "postulacion-id", "p1"))

	require.Equal(t, http.StatusForbidden, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "permission_denied", resp.Kind)
	assert.Equal(t, 0, s.Writes())
}

func TestRequestTransitionRejectsUnknownStatus(t *testing.T) {
	srv := newTestServer(t, seedStore(), "")

	w := httptest.NewRecorder()
	r := requestWithSession("POST", "/api/postulaciones/p1/transition", requestTransitionInput{Status: "approved"}, adminSession)
	srv.handleRequestTransition(w, withURLParam(r, "postulacion-id", "p1"))

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmTransitionUnknownToken(t *testing.T) {
	srv := newTestServer(t, seedStore(), "")

	w := httptest.NewRecorder()
	srv.handleConfirmTransition(w, requestWithSession("POST", "/api/transitions/confirm", confirmTransitionInput{Token: "nope"}, adminSession))

	require.Equal(t, http.StatusConflict, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "confirmation_expired", resp.Kind)
}

func TestTransitionLogDeniedForStudent(t *testing.T) {
	srv := newTestServer(t, seedStore(), "")

	w := httptest.NewRecorder()
	srv.handleTransitionLog(w, requestWithSession("GET", "/api/transitions/log", nil, studentSession))
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestServiceStatsRequiresValidKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("service-key"), bcrypt.MinCost)
	require.NoError(t, err)
	srv := newTestServer(t, seedStore(), string(hash))
	router := srv.routes()

	r := httptest.NewRequest("GET", "/service/stats", nil)
	r.Header.Set("Authorization", "wrong-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest("GET", "/service/stats", nil)
	r.Header.Set("Authorization", "service-key")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var stats statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[string(domain.StatusPending)])
}
