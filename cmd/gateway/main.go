package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/config"
	"github.com/titanflow/arena/internal/gateway"
	"github.com/titanflow/arena/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewServiceLogger("gateway")

	b, err := bus.Connect(bus.Config{
		URL:    cfg.NATS.URL,
		Name:   "titanflow-gateway",
		Prefix: cfg.NATS.Prefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer b.Close()

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Port, "gateway", b.IsConnected, logger)
		if err := ms.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start metrics server")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(ctx)
		}()
	}

	heartbeat := bus.NewHeartbeatPublisher(b, "gateway", bus.DefaultHeartbeatConfig(), logger)
	heartbeat.Start()
	defer heartbeat.Stop()

	provider := gateway.NewSyntheticProvider(gateway.SyntheticConfig{
		Symbols:      cfg.Trading.Symbols,
		TickInterval: time.Duration(cfg.Trading.TickIntervalMS) * time.Millisecond,
		Volatility:   cfg.Trading.TickVolatility,
	}, b, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- provider.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Gateway error")
			os.Exit(1)
		}
	}

	logger.Info().Msg("Gateway shutdown complete")
}
