package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/voluntapp/postulaciones-service/internal/repository"
	serverPkg "github.com/voluntapp/postulaciones-service/internal/server"
	"github.com/voluntapp/postulaciones-service/internal/service"
	"github.com/voluntapp/postulaciones-service/internal/store"
	"github.com/voluntapp/postulaciones-service/internal/workflow"
	"google.golang.org/api/option"
)

func ServerCmd(ctx context.Context) error {
	godotenv.Load()
	port := 9090
	_port := os.Getenv("PORT")
	if _port != "" {
		port, _ = strconv.Atoi(_port)
	}
	logger := newLogger("api")
	credentialsJson := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_CONTENT")
	credentialsJsonBytes := []byte(credentialsJson)
	opt := option.WithCredentialsJSON(credentialsJsonBytes)
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: os.Getenv("FIREBASE_PROJECT_ID")}, opt)
	if err != nil {
		return fmt.Errorf("error initializing app: %w", err)
	}
	authClient := service.NewFirebaseAuthRestClient(os.Getenv("FIREBASE_WEB_API_KEY"), os.Getenv("FIREBASE_PROJECT_ID"))

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return fmt.Errorf("error creating firestore client: %w", err)
	}
	defer firestoreClient.Close()
	documentStore := store.NewFirestoreStore(firestoreClient, logger)

	pool, err := newDatabasePool(ctx, 16)
	if err != nil {
		return fmt.Errorf("error creating db pool: %w", err)
	}
	transitionLog := repository.NewPostgresTransitionLog(pool)

	redisClient, err := newRedisClient(ctx)
	if err != nil {
		return fmt.Errorf("error creating redis client: %w", err)
	}
	pending := workflow.NewRedisPendingStore(redisClient)

	wf := workflow.New(logger, documentStore, transitionLog, pending)

	server, err := serverPkg.NewServer(ctx, logger, app, authClient, documentStore, documentStore, wf, transitionLog, os.Getenv("SERVICE_API_KEY_HASH"))
	if err != nil {
		return fmt.Errorf("error creating server: %w", err)
	}

	srv := server.Server(port)

	// metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(":9091", mux)
	}()

	go func() {
		_ = srv.ListenAndServe()
	}()
	logger.Info("started server", slog.Int("port", port))
	<-ctx.Done()
	_ = srv.Shutdown(ctx)
	return nil
}
