package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/config"
	"github.com/titanflow/arena/internal/metrics"
	"github.com/titanflow/arena/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewServiceLogger("signal-engine")

	b, err := bus.Connect(bus.Config{
		URL:    cfg.NATS.URL,
		Name:   "titanflow-signal-engine",
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
		ms := metrics.NewServer(cfg.Metrics.Port, "signal-engine", b.IsConnected, logger)
		if err := ms.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start metrics server")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(ctx)
		}()
	}

	heartbeat := bus.NewHeartbeatPublisher(b, "signal-engine", bus.DefaultHeartbeatConfig(), logger)
	heartbeat.Start()
	defer heartbeat.Stop()

	registry := strategy.NewRegistry()
	engine := strategy.NewEngine(b, auditor, registry, logger)

	if err := registerStrategies(engine, registry, cfg.Trading.Symbols, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to build strategies")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- engine.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Signal engine error")
			os.Exit(1)
		}
	}

	logger.Info().Msg("Signal engine shutdown complete")
}

// registerStrategies wires the stock roster: per symbol, two technical
// models plus a boosted classifier and a windowed sequence model, so
// the leaderboard always has four competitors per symbol.
func registerStrategies(engine *strategy.Engine, registry *strategy.Registry, symbols []string, logger zerolog.Logger) error {
	for _, symbol := range symbols {
		sma, err := strategy.NewSMACrossover(strategy.SMACrossoverConfig{
			ModelID:    fmt.Sprintf("sma_crossover_%s", symbol),
			Symbol:     symbol,
			FastPeriod: 10,
			SlowPeriod: 30,
		}, logger)
		if err != nil {
			return err
		}
		engine.Register(symbol, sma)

		rsi, err := strategy.NewRSIMeanReversion(strategy.RSIMeanReversionConfig{
			ModelID:    fmt.Sprintf("rsi_mean_reversion_%s", symbol),
			Symbol:     symbol,
			Period:     14,
			Oversold:   30,
			Overbought: 70,
		}, logger)
		if err != nil {
			return err
		}
		engine.Register(symbol, rsi)

		boosted, err := strategy.NewBoostedClassifier(strategy.BoostedClassifierConfig{
			ModelID:             fmt.Sprintf("boosted_classifier_%s", symbol),
			Symbol:              symbol,
			ConfidenceThreshold: 0.65,
		}, strategy.NewLogisticPredictor(), logger)
		if err != nil {
			return err
		}
		engine.Register(symbol, boosted)

		windowed, err := strategy.NewWindowedPredictor(strategy.WindowedPredictorConfig{
			ModelID:   fmt.Sprintf("windowed_predictor_%s", symbol),
			ModelName: "Windowed Predictor",
			Symbol:    symbol,
			Lookback:  60,
		}, strategy.NewRecencyWeightedPredictor(), logger)
		if err != nil {
			return err
		}
		engine.Register(symbol, windowed)

		for _, id := range []string{
			fmt.Sprintf("sma_crossover_%s", symbol),
			fmt.Sprintf("rsi_mean_reversion_%s", symbol),
			fmt.Sprintf("boosted_classifier_%s", symbol),
			fmt.Sprintf("windowed_predictor_%s", symbol),
		} {
			if err := registry.Register(id, strategy.DefaultModelVersion); err != nil {
				return err
			}
		}
	}
	return nil
}
