package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/broker"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/config"
	"github.com/titanflow/arena/internal/metrics"
	"github.com/titanflow/arena/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewServiceLogger("risk-governor")

	b, err := bus.Connect(bus.Config{
		URL:    cfg.NATS.URL,
		Name:   "titanflow-risk-governor",
		Prefix: cfg.NATS.Prefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer b.Close()

	auditor, err := audit.NewLogger(cfg.Audit.LogPath, b, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create audit logger")
	}
	defer auditor.Close()

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Port, "risk-governor", b.IsConnected, logger)
		if err := ms.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start metrics server")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(ctx)
		}()
	}

	heartbeat := bus.NewHeartbeatPublisher(b, "risk-governor", bus.DefaultHeartbeatConfig(), logger)
	heartbeat.Start()
	defer heartbeat.Stop()

	thresholds := risk.Thresholds{
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		RiskPerTradePct:      cfg.Risk.RiskPerTradePct,
		RollbackMinSharpe:    cfg.Risk.RollbackMinSharpe,
		RollbackMinAccuracy:  cfg.Risk.RollbackMinAccuracy,
	}

	engine := risk.NewEngine(thresholds, logger)
	svc := risk.NewService(risk.ServiceConfig{
		Thresholds:        thresholds,
		PerfCheckInterval: cfg.Risk.PerfCheckInterval,
	}, engine, b, auditor, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })

	switch cfg.Execution.Mode {
	case "live":
		// Live accounts are anchored by the broker poller instead of the
		// paper starting cash.
		brokerage := broker.NewAlpacaBrokerage(broker.AlpacaConfig{
			APIKey:    cfg.Broker.APIKey,
			SecretKey: cfg.Broker.SecretKey,
			BaseURL:   cfg.Broker.BaseURL,
		}, logger)
		poller := broker.NewAccountPoller(broker.PollerConfig{
			Interval:            time.Duration(cfg.Broker.AccountPollSeconds) * time.Second,
			MaxDailyDrawdownPct: cfg.Risk.DrawdownPct,
		}, brokerage, engine, b, auditor, logger)
		g.Go(func() error { return poller.Run(ctx) })
	default:
		engine.UpdateAccountState(cfg.Execution.StartingCash, 0)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Risk governor error")
			os.Exit(1)
		}
	}

	logger.Info().Msg("Risk governor shutdown complete")
}
