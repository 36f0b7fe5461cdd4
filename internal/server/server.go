package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/voluntapp/postulaciones-service/internal/domain"
	"github.com/voluntapp/postulaciones-service/internal/service"
	"github.com/voluntapp/postulaciones-service/internal/workflow"
)

type server struct {
	logger *slog.Logger

	app        *firebase.App
	authClient *service.FirebaseAuthRestClient

	store         domain.PostulacionStore
	opportunities domain.OpportunityStore
	workflow      *workflow.Workflow
	transitionLog domain.TransitionLogRepository

	serviceKeyHash string

	hub *viewHub
}

func NewServer(ctx context.Context, logger *slog.Logger, app *firebase.App, authClient *service.FirebaseAuthRestClient,
	store domain.PostulacionStore, opportunities domain.OpportunityStore, wf *workflow.Workflow,
	transitionLog domain.TransitionLogRepository, serviceKeyHash string) (*server, error) {
	return &server{
		logger:         logger,
		app:            app,
		authClient:     authClient,
		store:          store,
		opportunities:  opportunities,
		workflow:       wf,
		transitionLog:  transitionLog,
		serviceKeyHash: serviceKeyHash,
		hub:            newViewHub(logger, store, wf),
	}, nil
}

func (s *server) Server(port int) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.routes(),
	}
}

func (s *server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/up", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "up!")
	})

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Post("/token/refresh", s.handleRefreshToken)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.firebaseJwtVerifier)

		r.Get("/postulaciones", s.handleListPostulaciones)
		r.Post("/postulaciones/refresh", s.handleRefreshPostulaciones)
		r.Get("/postulaciones/{postulacion-id}", s.handleGetPostulacion)
		r.Post("/postulaciones/{postulacion-id}/transition", s.handleRequestTransition)

		r.Post("/transitions/confirm", s.handleConfirmTransition)
		r.Get("/transitions/log", s.handleTransitionLog)

		r.Get("/ws", s.handleWs)
	})

	r.Route("/service", func(r chi.Router) {
		r.Use(s.serviceKeyVerifier)
		r.Get("/stats", s.handleServiceStats)
	})
	return r
}
