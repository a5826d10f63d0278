package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/adapters/httpapi"
	"github.com/hudl-live/huddle/internal/app"
	"github.com/hudl-live/huddle/internal/config"
	"github.com/hudl-live/huddle/internal/meetings"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	reg := app.NewRegistry()

	// The meetings cache is optional; the registry never depends on it.
	var store *meetings.Store
	if cfg.Redis.Addr != "" {
		store = meetings.NewStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := store.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("meetings cache unreachable, running without it")
			_ = store.Close()
			store = nil
		}
		pingCancel()
	}

	r := httpapi.SetupRouter(ctx, cfg, reg, store)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if store != nil {
		_ = store.Close()
	}
	log.Info().Msg("Server exited gracefully")
}
