package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/config"
	"github.com/yourorg/comps-api/internal/hydrator"
	"github.com/yourorg/comps-api/internal/logger"
	"github.com/yourorg/comps-api/internal/provider"
	"github.com/yourorg/comps-api/internal/report"
	"github.com/yourorg/comps-api/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Init("comps-api", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hydr *hydrator.Hydrator
	if cfg.PG.DSN != "" {
		st, err := store.Open(cfg.PG.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate postgres")
		}
		hydr = &hydrator.Hydrator{Store: st, StaleAfter: cfg.Cache.StaleAfter}
		log.Info().Msg("snapshot archive enabled")
	}

	var archive provider.Archiver
	if hydr.Enabled() {
		archive = hydr
	}
	stack := provider.Build(ctx, cfg, archive)
	defer stack.Close()

	svc := comps.NewService(stack.Comps, cfg.Comps.Settings())
	reports := report.NewService(stack.Reports)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           BuildRouter(svc, reports, hydr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("comps-api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}
}
