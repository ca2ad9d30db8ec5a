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

	router "github.com/dkeye/mediacore/internal/adapters/http"
	"github.com/dkeye/mediacore/internal/app"
	"github.com/dkeye/mediacore/internal/app/orch"
	"github.com/dkeye/mediacore/internal/app/sfu"
	"github.com/dkeye/mediacore/internal/config"
	"github.com/dkeye/mediacore/internal/processor"
	"github.com/dkeye/mediacore/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		cfg = config.Default()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	o := orch.New(
		cfg.Session,
		app.NewRegistry(),
		app.NewRoomManager(),
		app.SimplePolicy{MaxRetries: 3},
		sfu.NewRelayManager(),
		session.WithLogger(log.Logger),
		session.WithProcessors(processor.DefaultRegistry()),
	)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("mediacore server started")
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
	for _, m := range o.Registry.Snapshot() {
		o.Registry.Cancel(m.SID)
		if m.Signal != nil {
			o.Disconnect(m.SID, m.Signal)
		}
	}
	log.Info().Msg("Server exited gracefully")
}
