package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/repository"
)

func jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// errKind gives clients a distinguishable error kind, so a permission denial
// can be explained instead of shown as a generic failure.
func errKind(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied", http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStatus):
		return "invalid_status", http.StatusBadRequest
	case errors.Is(err, domain.ErrConfirmationNotFound):
		return "confirmation_expired", http.StatusConflict
	case errors.Is(err, domain.ErrNoSession):
		return "no_session", http.StatusUnauthorized
	default:
		return "internal", http.StatusInternalServerError
	}
}

func errJSON(w http.ResponseWriter, err error) {
	kind, status := errKind(err)
	jsonResponse(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

type listResponse struct {
	Postulaciones []domain.Postulacion `json:"postulaciones"`
	Loading       bool                 `json:"loading"`
	Error         string               `json:"error,omitempty"`
}

func (s *server) handleListPostulaciones(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		errJSON(w, domain.ErrNoSession)
		return
	}
	// A connected websocket client already has a live view; serve its
	// snapshot so REST and stream agree.
	if view, ok := s.hub.lookup(session); ok {
		jsonResponse(w, http.StatusOK, listResponse{
			Postulaciones: view.Snapshot(),
			Loading:       view.Loading(),
			Error:         errMsg(view.Err()),
		})
		return
	}
	list, err := repository.QueryOnce(r.Context(), s.store, session)
	if err != nil {
		s.logger.Error("error querying postulaciones", "error", err, "userId", session.UserID)
		errJSON(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, listResponse{Postulaciones: list})
}

func (s *server) handleRefreshPostulaciones(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		errJSON(w, domain.ErrNoSession)
		return
	}
	if view, ok := s.hub.lookup(session); ok {
		// A failed refresh is transient: the last-known list is still served
		// next to the error message.
		refreshErr := view.Refresh(r.Context())
		jsonResponse(w, http.StatusOK, listResponse{
			Postulaciones: view.Snapshot(),
			Loading:       view.Loading(),
			Error:         errMsg(refreshErr),
		})
		return
	}
	list, err := repository.QueryOnce(r.Context(), s.store, session)
	if err != nil {
		s.logger.Error("error refreshing postulaciones", "error", err, "userId", session.UserID)
		errJSON(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, listResponse{Postulaciones: list})
}

type postulacionDetailResponse struct {
	Postulacion domain.Postulacion  `json:"postulacion"`
	Oportunidad *domain.Opportunity `json:"oportunidad,omitempty"`
}

func (s *server) handleGetPostulacion(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		errJSON(w, domain.ErrNoSession)
		return
	}
	postulacionID := chi.URLParam(r, "postulacion-id")
	p, err := s.store.GetByID(r.Context(), postulacionID)
	if err != nil {
		errJSON(w, err)
		return
	}
	if !domain.CanViewAll(session) && p.EstudianteID != session.UserID {
		errJSON(w, domain.ErrPermissionDenied)
		return
	}

	response := postulacionDetailResponse{Postulacion: p}
	opp, err := s.opportunities.GetOpportunity(r.Context(), p.OportunidadID)
	if err != nil {
		// Detail still renders without the listing; the reference may be
		// stale if the oportunidad was removed.
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("error getting oportunidad", "error", err, "oportunidadId", p.OportunidadID)
		}
	} else {
		response.Oportunidad = &opp
	}
	jsonResponse(w, http.StatusOK, response)
}

type requestTransitionInput struct {
	Status string `json:"status"`
}

func (s *server) handleRequestTransition(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		errJSON(w, domain.ErrNoSession)
		return
	}
	postulacionID := chi.URLParam(r, "postulacion-id")
	input := requestTransitionInput{}
	if err := decodeJSON(r, &input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, err := domain.ParseStatus(input.Status)
	if err != nil {
		errJSON(w, err)
		return
	}

	pc, err := s.workflow.RequestTransition(r.Context(), session, postulacionID, target)
	if err != nil {
		errJSON(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, pc)
}

type confirmTransitionInput struct {
	Token string `json:"token"`
}

type confirmTransitionResponse struct {
	OK     bool                    `json:"ok"`
	Record domain.TransitionRecord `json:"record"`
}

func (s *server) handleConfirmTransition(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		errJSON(w, domain.ErrNoSession)
		return
	}
	input := confirmTransitionInput{}
	if err := decodeJSON(r, &input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if input.Token == "" {
		http.Error(w, "empty token", http.StatusBadRequest)
		return
	}

	record, err := s.workflow.Confirm(r.Context(), session, input.Token)
	if err != nil {
		errJSON(w, err)
		return
	}
	// The admin's own live view should not wait for the subscription echo.
	if view, ok := s.hub.lookup(session); ok {
		if err := view.Refresh(r.Context()); err != nil {
			s.logger.Warn("refresh after transition failed", "error", err)
		}
	}
	jsonResponse(w, http.StatusOK, confirmTransitionResponse{OK: true, Record: record})
}

type transitionLogResponse struct {
	Records []domain.TransitionRecord `json:"records"`
}

func (s *server) handleTransitionLog(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		errJSON(w, domain.ErrNoSession)
		return
	}
	if !domain.CanAdminister(session) {
		errJSON(w, domain.ErrPermissionDenied)
		return
	}

	var records []domain.TransitionRecord
	var err error
	if postulacionID := r.URL.Query().Get("postulacion"); postulacionID != "" {
		records, err = s.transitionLog.ListByPostulacion(r.Context(), postulacionID)
	} else {
		records, err = s.transitionLog.ListRecent(r.Context(), 50)
	}
	if err != nil {
		s.logger.Error("error listing transition log", "error", err)
		errJSON(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, transitionLogResponse{Records: records})
}

type statsResponse struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

func (s *server) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.QueryAll(r.Context())
	if err != nil {
		s.logger.Error("error querying postulaciones for stats", "error", err)
		errJSON(w, err)
		return
	}
	byStatus := lo.CountValuesBy(list, func(p domain.Postulacion) string { return string(p.Status) })
	jsonResponse(w, http.StatusOK, statsResponse{Total: len(list), ByStatus: byStatus})
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
