// Package config loads arena configuration from file and environment.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all arena configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// NATSConfig contains message bus settings.
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// RedisConfig contains the optional last-price mirror settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// TradingConfig contains the symbol universe and gateway settings.
type TradingConfig struct {
	Symbols        []string `mapstructure:"symbols"`
	TickIntervalMS int      `mapstructure:"tick_interval_ms"`
	TickVolatility float64  `mapstructure:"tick_volatility"`
}

// RiskConfig contains the risk governor thresholds.
type RiskConfig struct {
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss"`
	RiskPerTradePct      float64 `mapstructure:"per_trade"`
	MaxConsecutiveLosses int     `mapstructure:"consecutive_losses"`
	DrawdownPct          float64 `mapstructure:"drawdown_pct"`
	RollbackMinSharpe    float64 `mapstructure:"rollback_min_sharpe"`
	RollbackMinAccuracy  float64 `mapstructure:"rollback_min_accuracy"`
	PerfCheckInterval    int     `mapstructure:"perf_check_interval"`
}

// ExecutionConfig contains execution engine settings.
type ExecutionConfig struct {
	Mode             string  `mapstructure:"mode"` // "paper" or "live"
	StartingCash     float64 `mapstructure:"starting_cash"`
	PublishSeconds   int     `mapstructure:"publish_seconds"`
	LatencyMinMS     int     `mapstructure:"latency_min_ms"`
	LatencyMaxMS     int     `mapstructure:"latency_max_ms"`
	SlippageBaseBps  float64 `mapstructure:"slippage_base_bps"`
	MaxOrderValue    float64 `mapstructure:"max_order_value"`
	MaxPositionValue float64 `mapstructure:"max_position_value"`
}

// BrokerConfig contains live brokerage settings.
type BrokerConfig struct {
	APIKey             string `mapstructure:"api_key"`
	SecretKey          string `mapstructure:"secret_key"`
	BaseURL            string `mapstructure:"base_url"`
	AccountPollSeconds int    `mapstructure:"account_poll_seconds"`
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	LogPath string `mapstructure:"log_path"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TITAN")

	setDefaults(v)
	bindEnvAliases(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "titanflow")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "titan.")

	// Redis mirror defaults (disabled unless an address is configured)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	// Trading defaults
	v.SetDefault("trading.symbols", []string{"SPY", "AAPL", "TSLA", "NVDA"})
	v.SetDefault("trading.tick_interval_ms", 500)
	v.SetDefault("trading.tick_volatility", 0.0002)

	// Risk defaults
	v.SetDefault("risk.max_daily_loss", 0.03)
	v.SetDefault("risk.per_trade", 0.01)
	v.SetDefault("risk.consecutive_losses", 5)
	v.SetDefault("risk.drawdown_pct", 0.03)
	v.SetDefault("risk.rollback_min_sharpe", 0.5)
	v.SetDefault("risk.rollback_min_accuracy", 0.50)
	v.SetDefault("risk.perf_check_interval", 10)

	// Execution defaults
	v.SetDefault("execution.mode", "paper")
	v.SetDefault("execution.starting_cash", 100000.0)
	v.SetDefault("execution.publish_seconds", 2)
	v.SetDefault("execution.latency_min_ms", 50)
	v.SetDefault("execution.latency_max_ms", 200)
	v.SetDefault("execution.slippage_base_bps", 1.0)
	v.SetDefault("execution.max_order_value", 50000.0)
	v.SetDefault("execution.max_position_value", 25000.0)

	// Broker defaults
	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.account_poll_seconds", 30)

	// Audit defaults
	v.SetDefault("audit.log_path", "audit_trail.jsonl")

	// Metrics defaults
	v.SetDefault("metrics.port", 9100)
	v.SetDefault("metrics.enabled", true)
}

// bindEnvAliases binds the unprefixed environment names that form the
// deployment contract alongside the TITAN_-prefixed forms.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string][]string{
		"execution.mode":              {"EXECUTION_MODE"},
		"execution.starting_cash":     {"PAPER_STARTING_CASH"},
		"execution.publish_seconds":   {"PAPER_PORTFOLIO_PUBLISH_SECONDS"},
		"risk.max_daily_loss":         {"RISK_MAX_DAILY_LOSS"},
		"risk.per_trade":              {"RISK_PER_TRADE"},
		"risk.consecutive_losses":     {"CIRCUIT_BREAKER_CONSECUTIVE_LOSSES"},
		"risk.drawdown_pct":           {"CIRCUIT_BREAKER_DRAWDOWN_PCT"},
		"risk.rollback_min_sharpe":    {"ROLLBACK_MIN_SHARPE"},
		"risk.rollback_min_accuracy":  {"ROLLBACK_MIN_ACCURACY"},
		"risk.perf_check_interval":    {"RISK_PERF_CHECK_INTERVAL"},
		"broker.account_poll_seconds": {"ACCOUNT_POLL_SECONDS"},
		"broker.api_key":              {"ALPACA_API_KEY"},
		"broker.secret_key":           {"ALPACA_SECRET_KEY"},
		"audit.log_path":              {"AUDIT_LOG_PATH"},
		"nats.url":                    {"NATS_URL"},
		"redis.addr":                  {"REDIS_ADDR"},
		"trading.symbols":             {"TRADING_SYMBOLS"},
	}

	for key, envs := range aliases {
		// BindEnv never fails with a non-empty key list
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// Validate checks configuration consistency. Live mode without broker
// credentials is a startup error.
func (c *Config) Validate() error {
	switch c.Execution.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("invalid execution mode %q (want paper or live)", c.Execution.Mode)
	}

	if c.Execution.Mode == "live" {
		if c.Broker.APIKey == "" || c.Broker.SecretKey == "" {
			return fmt.Errorf("live mode requires ALPACA_API_KEY and ALPACA_SECRET_KEY")
		}
	}

	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk.max_daily_loss must be in (0,1), got %v", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct >= 1 {
		return fmt.Errorf("risk.per_trade must be in (0,1), got %v", c.Risk.RiskPerTradePct)
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.consecutive_losses must be positive, got %d", c.Risk.MaxConsecutiveLosses)
	}
	if c.Risk.PerfCheckInterval <= 0 {
		return fmt.Errorf("risk.perf_check_interval must be positive, got %d", c.Risk.PerfCheckInterval)
	}

	if c.Execution.StartingCash <= 0 {
		return fmt.Errorf("execution.starting_cash must be positive, got %v", c.Execution.StartingCash)
	}
	if c.Execution.LatencyMinMS < 0 || c.Execution.LatencyMaxMS < c.Execution.LatencyMinMS {
		return fmt.Errorf("invalid latency range [%d,%d]", c.Execution.LatencyMinMS, c.Execution.LatencyMaxMS)
	}

	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}

	return nil
}
