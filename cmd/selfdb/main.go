// Command selfdb runs the backend gateway: the HTTP API over Postgres, the
// blob worker proxy, the function runtime client, and the realtime socket.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/selfdb-io/selfdb/internal/api"
	"github.com/selfdb-io/selfdb/internal/auth"
	"github.com/selfdb-io/selfdb/internal/backup"
	"github.com/selfdb-io/selfdb/internal/config"
	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/functions"
	"github.com/selfdb-io/selfdb/internal/storage"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "selfdb").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.MaxDBConns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer database.Close()

	authSvc, err := auth.New(cfg.SecretKey, cfg.Algorithm,
		cfg.AccessTokenExpireMinutes, cfg.RefreshTokenExpireDays)
	if err != nil {
		log.Fatal().Err(err).Msg("auth")
	}

	storageClient := storage.NewClient(cfg.Storage, log)
	defer storageClient.Close()

	runtime := functions.NewRuntime(cfg.FunctionsBaseURL(), log)

	backups := backup.NewManager(cfg, log)
	scheduler, err := backup.NewScheduler(backups, cfg.BackupScheduleCron, log)
	if err != nil {
		log.Fatal().Err(err).Str("cron", cfg.BackupScheduleCron).Msg("backup schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := api.NewServer(cfg, database, authSvc, storageClient, runtime, backups, log)
	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     server.Handler(),
		ReadTimeout: 0, // streaming uploads; per-chunk timeouts live in the storage client
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", cfg.ListenAddr).Str("version", cfg.AppVersion).Msg("gateway listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}
}
