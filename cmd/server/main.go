package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantcore/trademonitor/internal/broker"
	"github.com/quantcore/trademonitor/internal/config"
	"github.com/quantcore/trademonitor/internal/daemon"
	"github.com/quantcore/trademonitor/internal/scheduler"
	"github.com/quantcore/trademonitor/internal/server"
	"github.com/quantcore/trademonitor/internal/store"
	"github.com/quantcore/trademonitor/pkg/logger"
	"github.com/quantcore/trademonitor/pkg/marketcal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger isn't configured yet; this is the one place we fall back
		// to the stock library logger.
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting trade monitor core")

	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.MarketTimezone).Msg("failed to load market timezone")
	}

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open rule store")
	}
	defer st.Close()

	brk := broker.New(cfg.BrokerRESTBaseURL, cfg.BrokerAPIKey, log)

	cal, err := marketcal.New(cfg.MarketTimezone)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build market calendar")
	}

	dmn := daemon.New(st, brk, cfg, loc, cal, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()
	if err := sched.AddJob("0 0 3 * * *", dmn.NewFireLogRetentionJob(cfg.FireLogRetention)); err != nil {
		log.Fatal().Err(err).Msg("failed to register fire-log retention job")
	}

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		Store:    st,
		Sessions: dmn.Sessions(),
		DevMode:  cfg.DevMode,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dmn.Run(ctx)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("status HTTP server stopped")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("trade monitor core started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down trade monitor core")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status HTTP server forced to shutdown")
	}

	log.Info().Msg("trade monitor core stopped")
}
