package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/caneko-app/caneko-server/internal/admission"
	"github.com/caneko-app/caneko-server/internal/auth"
	"github.com/caneko-app/caneko-server/internal/cache"
	"github.com/caneko-app/caneko-server/internal/config"
	"github.com/caneko-app/caneko-server/internal/limits"
	"github.com/caneko-app/caneko-server/internal/logging"
	"github.com/caneko-app/caneko-server/internal/metrics"
	"github.com/caneko-app/caneko-server/internal/middleware"
	"github.com/caneko-app/caneko-server/internal/queue"
	"github.com/caneko-app/caneko-server/internal/storage"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/internal/tracing"
)

// API bundles the dependencies the handlers need.
type API struct {
	store      store.Store
	cache      *cache.Cache
	auth       *auth.Service
	controller *admission.Controller
	resolver   *limits.Resolver
	storage    *storage.Storage
	queue      *queue.Queue
	cfg        *config.Config
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if _, err := logging.NewLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}

	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	ctx := context.Background()

	st, err := store.NewMongo(ctx, cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer st.Close(ctx)

	c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer c.Close()

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer("caneko-api", cfg.Tracing.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("tracing disabled, init failed")
		} else {
			defer closer.Close()
		}
	}

	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	resolver := limits.NewResolver(st)
	controller := admission.New(st, resolver, admission.Config{
		MaxSourceBytes:  cfg.Admission.MaxSourceBytes,
		MaxEncodedBytes: cfg.Admission.MaxEncodedBytes,
		Strict:          cfg.Admission.Strict,
	})
	authSvc := auth.NewService(st, c, cfg.Auth)

	api := &API{
		store:      st,
		cache:      c,
		auth:       authSvc,
		controller: controller,
		resolver:   resolver,
		storage:    stor,
		queue:      q,
		cfg:        cfg,
	}

	router := setupRouter(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown failed")
	}

	log.Info().Msg("server stopped")
}
