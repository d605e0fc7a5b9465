// Package risk implements the governance layer between trade signals
// and execution requests: kill switch, fixed-fractional position
// sizing, and the model-health rollback state machine.
package risk

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Window size for the rolling prediction and return windows.
const rollingWindowSize = 20

// Minimum samples before rolling metrics are defined.
const minRollingSamples = 5

// Annualisation factor for daily returns.
var annualisation = math.Sqrt(252)

// Thresholds configures the engine's circuit breakers.
type Thresholds struct {
	MaxDailyLossPct      float64
	MaxConsecutiveLosses int
	RiskPerTradePct      float64
	RollbackMinSharpe    float64
	RollbackMinAccuracy  float64
}

// DefaultThresholds returns the stock configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDailyLossPct:      0.03,
		MaxConsecutiveLosses: 5,
		RiskPerTradePct:      0.01,
		RollbackMinSharpe:    0.5,
		RollbackMinAccuracy:  0.50,
	}
}

// Engine is the stateful risk governor core. All mutation happens under
// one mutex; the service loop is the only writer in production but the
// lock keeps the engine safe for the account poller as well.
type Engine struct {
	mu sync.Mutex

	thresholds Thresholds

	// Account state
	startingEquity float64
	currentEquity  float64
	dailyPnL       float64

	consecutiveLosses int

	// Rolling model performance windows, bounded at rollingWindowSize
	recentPredictions []bool
	recentReturns     []float64

	killSwitchActive   bool
	manualApprovalMode bool

	log zerolog.Logger
}

// NewEngine creates a risk engine with the given thresholds.
func NewEngine(thresholds Thresholds, log zerolog.Logger) *Engine {
	return &Engine{
		thresholds: thresholds,
		log:        log.With().Str("component", "risk_engine").Logger(),
	}
}

// UpdateAccountState refreshes equity and daily P&L from broker or
// portfolio data. The starting equity is anchored on the first call by
// backing the daily P&L out of the reported equity, and stays pinned
// until an explicit reset.
func (e *Engine) UpdateAccountState(equity, dailyPnL float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentEquity = equity
	e.dailyPnL = dailyPnL

	if e.startingEquity == 0 {
		e.startingEquity = equity - dailyPnL
	}
}

// CheckKillSwitch evaluates whether trading should be hard-halted and
// latches the switch when either breaker condition holds. Once set the
// switch stays set until ResetKillSwitch.
func (e *Engine) CheckKillSwitch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.startingEquity <= 0 {
		return false
	}

	drawdownPct := e.dailyPnL / e.startingEquity
	if drawdownPct <= -e.thresholds.MaxDailyLossPct {
		e.log.Error().
			Float64("drawdown_pct", drawdownPct).
			Float64("limit", e.thresholds.MaxDailyLossPct).
			Msg("Kill switch: daily drawdown limit breached")
		e.killSwitchActive = true
		return true
	}

	if e.consecutiveLosses >= e.thresholds.MaxConsecutiveLosses {
		e.log.Error().
			Int("consecutive_losses", e.consecutiveLosses).
			Int("limit", e.thresholds.MaxConsecutiveLosses).
			Msg("Kill switch: consecutive loss limit breached")
		e.killSwitchActive = true
		return true
	}

	return false
}

// RecordTradeResult records a closed trade's P&L for the
// consecutive-loss counter: losses increment, any non-negative result
// resets to zero.
func (e *Engine) RecordTradeResult(pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pnl < 0 {
		e.consecutiveLosses++
	} else {
		e.consecutiveLosses = 0
	}
}

// PositionSize computes fixed-fractional sizing:
// floor(equity * risk_per_trade / |entry - stop|). Returns 0 when the
// kill switch is active or the stop is degenerate.
func (e *Engine) PositionSize(entryPrice, stopLoss float64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.killSwitchActive {
		return 0
	}

	riskAmount := e.currentEquity * e.thresholds.RiskPerTradePct
	riskPerShare := math.Abs(entryPrice - stopLoss)

	if riskPerShare == 0 {
		e.log.Error().Float64("entry", entryPrice).Msg("Degenerate stop loss, sizing to zero")
		return 0
	}

	return int64(math.Floor(riskAmount / riskPerShare))
}

// ValidateSignal is the pre-execution gate: false while the kill switch
// or manual approval mode is active.
func (e *Engine) ValidateSignal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.killSwitchActive {
		e.log.Warn().Msg("Signal rejected: kill switch active")
		return false
	}
	if e.manualApprovalMode {
		e.log.Info().Msg("Signal queued: manual approval mode active")
		return false
	}
	return true
}

// RecordPrediction logs a single prediction outcome into the rolling
// performance windows.
func (e *Engine) RecordPrediction(correct bool, tradeReturnPct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recentPredictions = append(e.recentPredictions, correct)
	e.recentReturns = append(e.recentReturns, tradeReturnPct)

	if len(e.recentPredictions) > rollingWindowSize {
		e.recentPredictions = e.recentPredictions[1:]
	}
	if len(e.recentReturns) > rollingWindowSize {
		e.recentReturns = e.recentReturns[1:]
	}
}

// RollingAccuracy returns the rolling directional accuracy, or nil
// under minRollingSamples samples.
func (e *Engine) RollingAccuracy() *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollingAccuracyLocked()
}

func (e *Engine) rollingAccuracyLocked() *float64 {
	if len(e.recentPredictions) < minRollingSamples {
		return nil
	}
	var correct int
	for _, c := range e.recentPredictions {
		if c {
			correct++
		}
	}
	acc := float64(correct) / float64(len(e.recentPredictions))
	return &acc
}

// RollingSharpe returns the annualised Sharpe ratio over the rolling
// return window (mean/stdev * sqrt(252), population variance), or nil
// with insufficient data or zero volatility.
func (e *Engine) RollingSharpe() *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollingSharpeLocked()
}

func (e *Engine) rollingSharpeLocked() *float64 {
	if len(e.recentReturns) < minRollingSamples {
		return nil
	}

	n := float64(len(e.recentReturns))
	var mean float64
	for _, r := range e.recentReturns {
		mean += r
	}
	mean /= n

	var variance float64
	for _, r := range e.recentReturns {
		variance += (r - mean) * (r - mean)
	}
	variance /= n

	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}

	sharpe := (mean / std) * annualisation
	sharpe = math.Round(sharpe*1e4) / 1e4
	return &sharpe
}

// CheckModelHealth evaluates the rolling metrics against the rollback
// thresholds and flips AUTO to MANUAL when either breaches. Returns
// true only on the transition; once in MANUAL the check never re-fires
// until ResetManualApproval.
func (e *Engine) CheckModelHealth() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.manualApprovalMode {
		return false
	}

	sharpe := e.rollingSharpeLocked()
	accuracy := e.rollingAccuracyLocked()

	triggered := false
	if sharpe != nil && *sharpe < e.thresholds.RollbackMinSharpe {
		e.log.Warn().
			Float64("rolling_sharpe", *sharpe).
			Float64("threshold", e.thresholds.RollbackMinSharpe).
			Msg("Model rollback: Sharpe below threshold")
		triggered = true
	}
	if accuracy != nil && *accuracy < e.thresholds.RollbackMinAccuracy {
		e.log.Warn().
			Float64("rolling_accuracy", *accuracy).
			Float64("threshold", e.thresholds.RollbackMinAccuracy).
			Msg("Model rollback: accuracy below threshold")
		triggered = true
	}

	if triggered {
		e.manualApprovalMode = true
	}
	return triggered
}

// ResetManualApproval re-enables auto-execution after operator review.
func (e *Engine) ResetManualApproval() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.manualApprovalMode = false
	e.log.Info().Msg("Manual approval mode reset, auto-execution resumed")
}

// ResetKillSwitch clears the kill switch after operator review and
// re-anchors the starting equity to the current equity for the new
// session.
func (e *Engine) ResetKillSwitch() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.killSwitchActive = false
	e.consecutiveLosses = 0
	e.startingEquity = e.currentEquity
	e.dailyPnL = 0
	e.log.Warn().Float64("starting_equity", e.startingEquity).Msg("Kill switch reset")
}

// KillSwitchActive reports the kill-switch state.
func (e *Engine) KillSwitchActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killSwitchActive
}

// ManualApprovalActive reports the rollback state.
func (e *Engine) ManualApprovalActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manualApprovalMode
}

// ConsecutiveLosses returns the current loss streak.
func (e *Engine) ConsecutiveLosses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveLosses
}

// DailyPnL returns the most recent daily P&L.
func (e *Engine) DailyPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dailyPnL
}
