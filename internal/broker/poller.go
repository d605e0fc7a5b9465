package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/titanflow/arena/internal/audit"
	"github.com/titanflow/arena/internal/bus"
	"github.com/titanflow/arena/internal/contracts"
)

// AccountSink receives fresh account state, normally the risk engine.
type AccountSink interface {
	UpdateAccountState(equity, dailyPnL float64)
}

// PollerConfig configures the account poller.
type PollerConfig struct {
	Interval time.Duration
	// MaxDailyDrawdownPct triggers a hard liquidation when today's
	// return falls to or below its negative.
	MaxDailyDrawdownPct float64
}

// AccountPoller periodically pulls the live account, feeds it to the
// risk engine, and fires LIQUIDATE_ALL on a hard intraday drawdown
// breach independent of the per-signal risk path.
type AccountPoller struct {
	cfg       PollerConfig
	brokerage Brokerage
	sink      AccountSink
	bus       *bus.Bus
	auditor   *audit.Logger
	log       zerolog.Logger

	tripped bool
}

// NewAccountPoller creates an account poller.
func NewAccountPoller(cfg PollerConfig, brokerage Brokerage, sink AccountSink, b *bus.Bus, auditor *audit.Logger, log zerolog.Logger) *AccountPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &AccountPoller{
		cfg:       cfg,
		brokerage: brokerage,
		sink:      sink,
		bus:       b,
		auditor:   auditor,
		log:       log.With().Str("component", "account_poller").Logger(),
	}
}

// Run polls until the context is cancelled.
func (p *AccountPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// First poll immediately so the risk engine has account state
	// before the first signal arrives.
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches the account once and applies the drawdown check.
func (p *AccountPoller) Poll(ctx context.Context) {
	acct, err := p.brokerage.GetAccount(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to poll account")
		return
	}

	dailyPnL := acct.UnrealizedDayPnL()
	if p.sink != nil {
		p.sink.UpdateAccountState(acct.Equity, dailyPnL)
	}

	p.log.Debug().
		Float64("equity", acct.Equity).
		Float64("daily_pnl", dailyPnL).
		Msg("Account polled")

	if p.tripped || acct.LastEquity <= 0 {
		return
	}

	dailyReturn := dailyPnL / acct.LastEquity
	if dailyReturn > -p.cfg.MaxDailyDrawdownPct {
		return
	}

	p.tripped = true
	p.log.Error().
		Float64("daily_return", dailyReturn).
		Float64("limit", p.cfg.MaxDailyDrawdownPct).
		Msg("Intraday drawdown limit breached, liquidating")

	cmd := contracts.RiskCommand{
		Command:   contracts.CommandLiquidateAll,
		Reason:    "intraday_drawdown_limit_breached",
		Timestamp: time.Now().UTC(),
	}
	if err := p.bus.Publish(ctx, bus.TopicRiskCommands, cmd); err != nil {
		p.log.Error().Err(err).Msg("Failed to publish liquidation command")
	}

	if err := p.brokerage.CloseAllPositions(ctx); err != nil {
		p.log.Error().Err(err).Msg("Failed to close positions")
	}

	if p.auditor != nil {
		p.auditor.LogKillSwitch(ctx, "intraday_drawdown_limit_breached", dailyPnL, 0)
	}
}
