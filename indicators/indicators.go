package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"perp-guard/internal/constants"
	"perp-guard/types"
)

// ATR computes the Average True Range over the last period true ranges and
// returns (atr, lastClose). Fewer than period+1 candles is insufficient data:
// the result is (0, lastClose) and callers must fall back to a percentage
// policy. The arithmetic is a plain SMA of true ranges so the same candle
// series always reproduces the same value.
func ATR(candles []types.Candle, period int) (float64, float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	lastClose := candles[len(candles)-1].Close
	if period <= 0 || len(candles) < period+1 {
		return 0, lastClose
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trs = append(trs, tr)
	}

	sum := 0.0
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	return sum / float64(period), lastClose
}

// snapshotMinCandles is the shortest series Snapshot accepts; below it the
// EMA50 slope and MACD signal are meaningless.
const snapshotMinCandles = 60

// Snapshot computes the indicator set the regime filter and debug logging use.
// Returns ok=false when the series is too short.
func Snapshot(candles []types.Candle) (types.IndicatorSnapshot, bool) {
	if len(candles) < snapshotMinCandles {
		return types.IndicatorSnapshot{}, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	n := len(closes)

	ema12 := talib.Ema(closes, constants.DefaultMACDFast)
	ema26 := talib.Ema(closes, constants.DefaultMACDSlow)
	ema50 := talib.Ema(closes, 50)
	rsi := talib.Rsi(closes, constants.DefaultRSIPeriod)
	upper, middle, lower := talib.BBands(closes,
		constants.DefaultBollingerWindow,
		constants.DefaultBollingerMult,
		constants.DefaultBollingerMult,
		talib.SMA)
	macd, macdSignal, _ := talib.Macd(closes,
		constants.DefaultMACDFast,
		constants.DefaultMACDSlow,
		constants.DefaultMACDSignal)

	snap := types.IndicatorSnapshot{
		Close:      closes[n-1],
		EMA12:      ema12[n-1],
		EMA26:      ema26[n-1],
		EMA50:      ema50[n-1],
		MACD:       macd[n-1],
		MACDSignal: macdSignal[n-1],
		RSI14:      rsi[n-1],
		BBMid:      middle[n-1],
		BBUpper:    upper[n-1],
		BBLower:    lower[n-1],
	}

	// Normalized slope of EMA50 over the last bar.
	if ema50[n-2] != 0 {
		snap.EMA50Slope = (ema50[n-1] - ema50[n-2]) / ema50[n-2]
	}
	if snap.BBMid != 0 {
		snap.BBWidth = (snap.BBUpper - snap.BBLower) / snap.BBMid
	}

	return snap, true
}
