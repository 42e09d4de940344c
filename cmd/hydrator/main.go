package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/config"
	"github.com/yourorg/comps-api/internal/env"
	"github.com/yourorg/comps-api/internal/hydrator"
	"github.com/yourorg/comps-api/internal/logger"
	"github.com/yourorg/comps-api/internal/provider"
	"github.com/yourorg/comps-api/internal/store"
)

// hydrator re-runs comparable searches for a portfolio of addresses and
// archives the results. HYDRATOR_ADDRESSES separates addresses with ';' or
// newlines.
func main() {
	cfg := config.Load()
	logger.Init("comps-hydrator", cfg.Server.Env)
	dsn := env.Must("PG_DSN")

	addresses := hydrator.SplitAddresses(os.Getenv("HYDRATOR_ADDRESSES"))
	if len(addresses) == 0 {
		log.Fatal().Msg("HYDRATOR_ADDRESSES must be provided")
	}
	modes, err := hydrator.ParseModes(env.Get("HYDRATOR_MODES", "sales,similar"))
	if err != nil {
		log.Fatal().Err(err).Msg("HYDRATOR_MODES")
	}

	interval := env.GetDuration("HYDRATOR_INTERVAL", 24*time.Hour)
	pause := env.GetDuration("HYDRATOR_PAUSE", 2*time.Second)
	requestTimeout := env.GetDuration("HYDRATOR_REQUEST_TIMEOUT", 60*time.Second)
	runOnce := env.GetBool("HYDRATOR_RUN_ONCE", false)

	st, err := store.Open(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("store open")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := st.Ping(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("postgres ping")
	}
	if err := st.Migrate(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("postgres migrate")
	}
	cancel()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hyd := &hydrator.Hydrator{Store: st, StaleAfter: cfg.Cache.StaleAfter}
	stack := provider.Build(rootCtx, cfg, hyd)
	defer stack.Close()

	job := &hydrator.BulkJob{
		Service:  comps.NewService(stack.Comps, cfg.Comps.Settings()),
		Hydrator: hyd,
		Config: hydrator.BulkConfig{
			Addresses:            addresses,
			Modes:                modes,
			Interval:             interval,
			PauseBetweenRequests: pause,
			RequestTimeout:       requestTimeout,
		},
	}

	if runOnce {
		if err := job.RunOnce(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("hydrator bulk run failed")
		}
		return
	}

	if err := job.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("hydrator job stopped with error")
	}
}
