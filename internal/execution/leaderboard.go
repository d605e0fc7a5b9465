package execution

import (
	"math"
	"time"

	"github.com/titanflow/arena/internal/contracts"
)

// tradingDaysPerYear is the annualisation base for ratio metrics.
const tradingDaysPerYear = 252.0

func nowUTC() time.Time { return time.Now().UTC() }

// enrichRow attaches drawdown and risk-adjusted return metrics derived
// from the sampled equity curve.
func enrichRow(row *contracts.LeaderboardRow, curve []EquityPoint) {
	if len(curve) == 0 {
		return
	}

	equities := make([]float64, len(curve))
	for i, pt := range curve {
		equities[i] = pt.Equity
	}

	row.MaxDrawdown = maxDrawdown(equities)

	returns := curveReturns(equities)
	if len(returns) == 0 {
		return
	}

	row.Sortino = sortinoRatio(returns)
	row.Calmar = calmarRatio(returns, row.MaxDrawdown)
}

// maxDrawdown is the largest peak-to-trough decline as a fraction of
// the peak.
func maxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) == 0 {
		return 0
	}

	peak := equityCurve[0]
	maxDD := 0.0
	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func curveReturns(equityCurve []float64) []float64 {
	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		if equityCurve[i-1] > 0 {
			returns = append(returns, (equityCurve[i]-equityCurve[i-1])/equityCurve[i-1])
		}
	}
	return returns
}

// sortinoRatio is the annualised mean return over the downside
// deviation. All-positive return streams have no downside and report
// zero rather than infinity.
func sortinoRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var downside float64
	var downsideCount int
	for _, r := range returns {
		if r < 0 {
			downside += r * r
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0
	}

	downsideDev := math.Sqrt(downside / float64(len(returns)))
	if downsideDev == 0 {
		return 0
	}

	return (mean / downsideDev) * math.Sqrt(tradingDaysPerYear)
}

// calmarRatio is the annualised return over the maximum drawdown.
func calmarRatio(returns []float64, maxDD float64) float64 {
	if maxDD == 0 || len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	return (mean * tradingDaysPerYear) / maxDD
}
