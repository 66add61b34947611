package indicators

import (
	"math"
	"testing"

	"perp-guard/types"
)

func candle(o, h, l, c float64) types.Candle {
	return types.Candle{Open: o, High: h, Low: l, Close: c}
}

func TestATRHandComputed(t *testing.T) {
	// Four candles, period 3: three true ranges averaged.
	candles := []types.Candle{
		candle(100, 101, 99, 100),
		candle(100, 102, 99, 101),  // TR = max(3, 2, 1) = 3
		candle(101, 104, 100, 103), // TR = max(4, 3, 1) = 4
		candle(103, 105, 102, 104), // TR = max(3, 2, 1) = 3
	}

	atr, lastClose := ATR(candles, 3)
	want := (3.0 + 4.0 + 3.0) / 3.0
	if math.Abs(atr-want) > 1e-12 {
		t.Errorf("ATR = %.12f, want %.12f", atr, want)
	}
	if lastClose != 104 {
		t.Errorf("lastClose = %.2f, want 104", lastClose)
	}
}

func TestATRGapDominatesTrueRange(t *testing.T) {
	// A gap beyond the bar range must drive the true range through the
	// |high-prevClose| term.
	candles := []types.Candle{
		candle(100, 101, 99, 100),
		candle(110, 112, 110, 111), // range 2, but high-prevClose = 12
	}
	atr, _ := ATR(candles, 1)
	if math.Abs(atr-12) > 1e-12 {
		t.Errorf("ATR = %.4f, want 12 (gap true range)", atr)
	}
}

func TestATRInsufficientData(t *testing.T) {
	tests := []struct {
		name    string
		candles []types.Candle
		period  int
		want    float64 // expected lastClose
	}{
		{"empty", nil, 14, 0},
		{"one candle", []types.Candle{candle(100, 101, 99, 100.5)}, 14, 100.5},
		{"exactly period", []types.Candle{
			candle(100, 101, 99, 100),
			candle(100, 101, 99, 101),
			candle(101, 102, 100, 102),
		}, 3, 102},
		{"zero period", []types.Candle{candle(100, 101, 99, 100)}, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atr, lastClose := ATR(tt.candles, tt.period)
			if atr != 0 {
				t.Errorf("ATR = %.4f, want 0 for insufficient data", atr)
			}
			if lastClose != tt.want {
				t.Errorf("lastClose = %.4f, want %.4f", lastClose, tt.want)
			}
		})
	}
}

func TestATRDeterministic(t *testing.T) {
	candles := make([]types.Candle, 0, 50)
	px := 100.0
	for i := 0; i < 50; i++ {
		// Fixed synthetic walk, no randomness.
		step := float64(i%7) - 3.0
		px += step
		candles = append(candles, candle(px, px+2, px-1.5, px+0.5))
	}

	a1, c1 := ATR(candles, 14)
	a2, c2 := ATR(candles, 14)
	if a1 != a2 || c1 != c2 {
		t.Errorf("ATR not reproducible: (%.12f,%.12f) vs (%.12f,%.12f)", a1, c1, a2, c2)
	}
	if a1 <= 0 {
		t.Errorf("ATR = %.4f, want > 0 for full series", a1)
	}
}

func TestSnapshotTooShort(t *testing.T) {
	candles := make([]types.Candle, snapshotMinCandles-1)
	for i := range candles {
		candles[i] = candle(100, 101, 99, 100)
	}
	if _, ok := Snapshot(candles); ok {
		t.Error("Snapshot accepted a series below the minimum length")
	}
}

func TestSnapshotTrendingSeries(t *testing.T) {
	candles := make([]types.Candle, 120)
	px := 100.0
	for i := range candles {
		px *= 1.004
		candles[i] = candle(px, px*1.002, px*0.998, px)
	}

	snap, ok := Snapshot(candles)
	if !ok {
		t.Fatal("Snapshot rejected a full series")
	}
	if snap.EMA50Slope <= 0 {
		t.Errorf("EMA50Slope = %.6f, want > 0 in a steady uptrend", snap.EMA50Slope)
	}
	if snap.RSI14 <= 50 {
		t.Errorf("RSI14 = %.2f, want > 50 in a steady uptrend", snap.RSI14)
	}
	if snap.Close <= snap.EMA50 {
		t.Errorf("close %.2f not above EMA50 %.2f in an uptrend", snap.Close, snap.EMA50)
	}
	if snap.BBWidth <= 0 {
		t.Errorf("BBWidth = %.6f, want > 0", snap.BBWidth)
	}
}
