// The worker drains the purge queue: when an admin deletes an account the
// API removes the user record and enqueues a purge; this process removes
// the gallery, documents, pet profile and avatar objects the account owned.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/caneko-app/caneko-server/internal/config"
	"github.com/caneko-app/caneko-server/internal/logging"
	"github.com/caneko-app/caneko-server/internal/metrics"
	"github.com/caneko-app/caneko-server/internal/queue"
	"github.com/caneko-app/caneko-server/internal/storage"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewMongo(ctx, cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer st.Close(ctx)

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutting down worker")
		cancel()
	}()

	purger := &purger{store: st, storage: stor}

	log.Info().Msg("worker started, waiting for purge requests")
	if err := q.ConsumePurges(ctx, purger.purge); err != nil {
		log.Fatal().Err(err).Msg("failed to consume purge queue")
	}

	<-ctx.Done()
	log.Info().Msg("worker stopped")
}

type purger struct {
	store   store.Store
	storage *storage.Storage
}

// purge removes everything a deleted account owned. Each step is idempotent,
// so a requeued message that already half-ran converges on the same state.
func (p *purger) purge(req *models.PurgeUserRequest) error {
	ctx := context.Background()

	log.Info().Str("user_id", req.UserID).Msg("purging user data")

	for _, collection := range []string{
		store.CollectionGalleries,
		store.CollectionDocuments,
		store.CollectionPets,
	} {
		if err := p.store.Delete(ctx, collection, req.UserID); err != nil {
			log.Error().Err(err).Str("user_id", req.UserID).Str("collection", collection).Msg("purge delete failed")
			metrics.PurgeFailuresTotal.Inc()
			return err
		}
	}

	if err := p.storage.DeleteUserAvatars(ctx, req.UserID); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("avatar purge failed")
		metrics.PurgeFailuresTotal.Inc()
		return err
	}

	metrics.UsersPurgedTotal.Inc()
	log.Info().Str("user_id", req.UserID).Msg("user data purged")
	return nil
}
