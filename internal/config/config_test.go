package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Execution.Mode)
	assert.Equal(t, 100000.0, cfg.Execution.StartingCash)
	assert.Equal(t, 2, cfg.Execution.PublishSeconds)
	assert.Equal(t, 0.03, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, 0.01, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 5, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 0.5, cfg.Risk.RollbackMinSharpe)
	assert.Equal(t, 0.50, cfg.Risk.RollbackMinAccuracy)
	assert.Equal(t, 10, cfg.Risk.PerfCheckInterval)
	assert.Equal(t, 30, cfg.Broker.AccountPollSeconds)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.NotEmpty(t, cfg.Trading.Symbols)
}

func TestLoad_EnvAliases(t *testing.T) {
	t.Setenv("EXECUTION_MODE", "paper")
	t.Setenv("RISK_MAX_DAILY_LOSS", "0.05")
	t.Setenv("CIRCUIT_BREAKER_CONSECUTIVE_LOSSES", "3")
	t.Setenv("PAPER_STARTING_CASH", "250000")
	t.Setenv("AUDIT_LOG_PATH", "/tmp/audit.jsonl")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, 3, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 250000.0, cfg.Execution.StartingCash)
	assert.Equal(t, "/tmp/audit.jsonl", cfg.Audit.LogPath)
}

func TestLoad_LiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("EXECUTION_MODE", "live")
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_SECRET_KEY", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live mode requires")
}

func TestLoad_LiveModeWithCredentials(t *testing.T) {
	t.Setenv("EXECUTION_MODE", "live")
	t.Setenv("ALPACA_API_KEY", "key")
	t.Setenv("ALPACA_SECRET_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.Execution.Mode)
	assert.Equal(t, "key", cfg.Broker.APIKey)
}

func TestValidate_InvalidMode(t *testing.T) {
	t.Setenv("EXECUTION_MODE", "dry-run")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate_Thresholds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Risk.MaxDailyLossPct = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Execution.LatencyMinMS = 200
	cfg.Execution.LatencyMaxMS = 50
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Trading.Symbols = nil
	assert.Error(t, cfg.Validate())
}
