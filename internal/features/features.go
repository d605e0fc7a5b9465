// Package features turns OHLCV bars into finite-valued feature rows for
// the model-driven strategies. The computation is a pure function over
// the input bars; rows that cannot be fully populated are dropped.
package features

import (
	"math"

	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"github.com/titanflow/arena/internal/contracts"
)

// Default indicator parameters.
const (
	RSIPeriod        = 14
	ATRPeriod        = 14
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	BollingerPeriod  = 20
	VolumeSMAPeriod  = 10
)

// Names of the model input features, in matrix column order.
var ModelFeatures = []string{
	"log_ret", "rsi", "atr",
	"macd", "macd_hist", "macd_signal",
	"bb_upper", "bb_lower",
}

// Row is one fully-populated feature row. Every value is finite.
type Row struct {
	Symbol     string
	Close      float64
	LogReturn  float64
	RSI        float64
	ATR        float64
	MACD       float64
	MACDHist   float64
	MACDSignal float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	VolumeSMA  float64
}

// Vector returns the model input features in ModelFeatures order.
func (r Row) Vector() []float64 {
	return []float64{
		r.LogReturn, r.RSI, r.ATR,
		r.MACD, r.MACDHist, r.MACDSignal,
		r.BBUpper, r.BBLower,
	}
}

// MinBars is the number of bars needed before Compute can emit a row.
// The slow EMA plus the signal EMA dominate the warmup.
const MinBars = MACDSlowPeriod + MACDSignalPeriod

// Compute derives feature rows from bars. Each indicator series is
// aligned to the tail of the input; the output covers the suffix of
// bars for which every indicator is defined. Rows containing NaN or
// Inf are dropped.
func Compute(bars []contracts.Bar) []Row {
	if len(bars) < MinBars {
		return nil
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	logReturns := logReturns(closes)
	rsi := WilderRSI(closes, RSIPeriod)
	atr := ATR(highs, lows, closes, ATRPeriod)
	macd, macdSignal := macdSeries(closes)
	bbLower, bbMiddle, bbUpper := bollingerSeries(closes)
	volSMA := smaSeries(volumes, VolumeSMAPeriod)

	// All series are tail-aligned: the shortest one bounds the output.
	n := len(bars)
	for _, s := range [][]float64{logReturns, rsi, atr, macd, macdSignal, bbLower, volSMA} {
		if len(s) < n {
			n = len(s)
		}
	}
	if n <= 0 {
		return nil
	}

	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		bar := bars[len(bars)-n+i]
		row := Row{
			Symbol:     bar.Symbol,
			Close:      bar.Close,
			LogReturn:  tailAt(logReturns, n, i),
			RSI:        tailAt(rsi, n, i),
			ATR:        tailAt(atr, n, i),
			MACD:       tailAt(macd, n, i),
			MACDSignal: tailAt(macdSignal, n, i),
			BBUpper:    tailAt(bbUpper, n, i),
			BBMiddle:   tailAt(bbMiddle, n, i),
			BBLower:    tailAt(bbLower, n, i),
			VolumeSMA:  tailAt(volSMA, n, i),
		}
		row.MACDHist = row.MACD - row.MACDSignal

		if !rowFinite(row) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// Normalize z-scores each model feature within the window. Standard
// deviation uses an epsilon floor so constant columns map to zero
// rather than dividing by zero.
func Normalize(rows []Row) [][]float64 {
	if len(rows) == 0 {
		return nil
	}

	const epsilon = 1e-8
	cols := len(ModelFeatures)

	mean := make([]float64, cols)
	for _, r := range rows {
		v := r.Vector()
		for c := 0; c < cols; c++ {
			mean[c] += v[c]
		}
	}
	for c := range mean {
		mean[c] /= float64(len(rows))
	}

	std := make([]float64, cols)
	for _, r := range rows {
		v := r.Vector()
		for c := 0; c < cols; c++ {
			d := v[c] - mean[c]
			std[c] += d * d
		}
	}
	for c := range std {
		std[c] = math.Sqrt(std[c] / float64(len(rows)))
	}

	out := make([][]float64, len(rows))
	for i, r := range rows {
		v := r.Vector()
		norm := make([]float64, cols)
		for c := 0; c < cols; c++ {
			norm[c] = (v[c] - mean[c]) / (std[c] + epsilon)
		}
		out[i] = norm
	}
	return out
}

// WilderRSI computes the relative strength index with Wilder smoothing.
// The output is tail-aligned: output[len-1] corresponds to the last
// close.
func WilderRSI(closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period+1 {
		return nil
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(gains)-period+1)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes the average true range with Wilder smoothing. Always
// non-negative; tail-aligned like WilderRSI.
func ATR(highs, lows, closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period+1 {
		return nil
	}

	tr := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	var atr float64
	for i := 0; i < period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)

	out := make([]float64, 0, len(tr)-period+1)
	out = append(out, atr)
	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out = append(out, atr)
	}
	return out
}

func logReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			out = append(out, math.NaN())
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

func macdSeries(closes []float64) (macd, signal []float64) {
	macdChan, signalChan := trend.NewMacdWithPeriod[float64](
		MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod,
	).Compute(sliceToChan(closes))

	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macd = append(macd, m)
		signal = append(signal, s)
	}
	return macd, signal
}

func bollingerSeries(closes []float64) (lower, middle, upper []float64) {
	lowerChan, middleChan, upperChan := volatility.NewBollingerBandsWithPeriod[float64](
		BollingerPeriod,
	).Compute(sliceToChan(closes))

	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}
	return lower, middle, upper
}

func smaSeries(values []float64, period int) []float64 {
	var out []float64
	for v := range trend.NewSmaWithPeriod[float64](period).Compute(sliceToChan(values)) {
		out = append(out, v)
	}
	return out
}

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// tailAt indexes a tail-aligned series so that i == n-1 is the value
// for the most recent bar.
func tailAt(s []float64, n, i int) float64 {
	return s[len(s)-n+i]
}

func rowFinite(r Row) bool {
	for _, v := range []float64{
		r.LogReturn, r.RSI, r.ATR,
		r.MACD, r.MACDHist, r.MACDSignal,
		r.BBUpper, r.BBMiddle, r.BBLower, r.VolumeSMA,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
