package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/broker"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/config"
	"github.com/titanflow/arena/internal/execution"
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
	logger := config.NewServiceLogger("execution-engine")

	b, err := bus.Connect(bus.Config{
		URL:    cfg.NATS.URL,
		Name:   "titanflow-execution-engine",
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
		ms := metrics.NewServer(cfg.Metrics.Port, "execution-engine", b.IsConnected, logger)
		if err := ms.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start metrics server")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(ctx)
		}()
	}

	heartbeat := bus.NewHeartbeatPublisher(b, "execution-engine", bus.DefaultHeartbeatConfig(), logger)
	heartbeat.Start()
	defer heartbeat.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	switch cfg.Execution.Mode {
	case "live":
		brokerage := broker.NewAlpacaBrokerage(broker.AlpacaConfig{
			APIKey:    cfg.Broker.APIKey,
			SecretKey: cfg.Broker.SecretKey,
			BaseURL:   cfg.Broker.BaseURL,
		}, logger)
		executor := broker.NewLiveExecutor(brokerage, b, auditor, logger)
		logger.Info().Str("base_url", cfg.Broker.BaseURL).Msg("Starting live executor")
		go func() {
			errChan <- executor.Run(ctx)
		}()
	default:
		var rdb *redis.Client
		if cfg.Redis.Enabled && cfg.Redis.Addr != "" {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
		}

		engine := execution.NewEngine(execution.EngineConfig{
			StartingCash:     cfg.Execution.StartingCash,
			LatencyMin:       time.Duration(cfg.Execution.LatencyMinMS) * time.Millisecond,
			LatencyMax:       time.Duration(cfg.Execution.LatencyMaxMS) * time.Millisecond,
			SlippageBaseBps:  cfg.Execution.SlippageBaseBps,
			MaxOrderValue:    cfg.Execution.MaxOrderValue,
			MaxPositionValue: cfg.Execution.MaxPositionValue,
			PublishInterval:  time.Duration(cfg.Execution.PublishSeconds) * time.Second,
		}, b, rdb, auditor, logger)
		logger.Info().Float64("starting_cash", cfg.Execution.StartingCash).Msg("Starting paper execution engine")
		go func() {
			errChan <- engine.Run(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Execution engine error")
			os.Exit(1)
		}
	}

	logger.Info().Msg("Execution engine shutdown complete")
}
