// Command selfdb-storage runs the blob worker: a small HTTP file server the
// gateway streams uploads and downloads through.
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

	"github.com/selfdb-io/selfdb/internal/blobworker"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "selfdb-storage").Logger()

	baseDir := os.Getenv("STORAGE_BASE_DIR")
	if baseDir == "" {
		baseDir = "/data/storage"
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8001"
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		log.Fatal().Err(err).Str("dir", baseDir).Msg("storage root")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := blobworker.New(baseDir, log)
	srv := &http.Server{
		Addr:        addr,
		Handler:     worker.Handler(),
		ReadTimeout: 0, // uploads may stream for minutes
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Str("dir", baseDir).Msg("storage worker listening")

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
