package guard

import (
	"testing"

	"perp-guard/config"
	"perp-guard/logging"
	"perp-guard/position"
	"perp-guard/types"
)

type fakeVenue struct {
	balance    float64
	openOrders []types.OpenOrder
	positions  []types.PositionInfo
	candles    []types.Candle
	ticker     types.Ticker
	instr      types.InstrumentInfo

	cancelled     []string
	createdOrders []types.CreateOrderParams
}

func (f *fakeVenue) GetKlines(symbol, interval string, limit int) ([]types.Candle, error) {
	return f.candles, nil
}
func (f *fakeVenue) GetTicker(symbol string) (types.Ticker, error) { return f.ticker, nil }
func (f *fakeVenue) GetInstrumentInfo(symbol string) (types.InstrumentInfo, error) {
	return f.instr, nil
}
func (f *fakeVenue) GetBalance(coin string) (float64, error)       { return f.balance, nil }
func (f *fakeVenue) SetLeverage(symbol string, leverage int) error { return nil }
func (f *fakeVenue) CreateOrder(p types.CreateOrderParams) (types.OrderAck, error) {
	f.createdOrders = append(f.createdOrders, p)
	return types.OrderAck{OrderID: "ord-1"}, nil
}
func (f *fakeVenue) GetOrder(orderID, symbol string) (types.OrderStatus, error) {
	return types.OrderStatus{OrderID: orderID, Status: "Filled", AvgPrice: f.ticker.LastPrice, CumQty: 1}, nil
}
func (f *fakeVenue) GetOpenOrders(symbol string) ([]types.OpenOrder, error) {
	return f.openOrders, nil
}
func (f *fakeVenue) CancelOrder(orderID, symbol string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}
func (f *fakeVenue) GetPositions(symbol string) ([]types.PositionInfo, error) {
	return f.positions, nil
}
func (f *fakeVenue) GetProtectionState(symbol string) (types.ProtectionState, error) {
	return types.ProtectionState{}, nil
}
func (f *fakeVenue) SetTrailingStop(symbol string, activationPrice, callbackRatePct float64, positionIdx int, triggerBy string) error {
	return nil
}
func (f *fakeVenue) SetStopLoss(symbol string, price float64, positionIdx int) error { return nil }

type fakePredictor struct {
	signal types.Signal
	calls  int
}

func (p *fakePredictor) PredictTrend(symbol, timeframe string) (types.Signal, error) {
	p.calls++
	return p.signal, nil
}

// trendingCandles passes the regime gate: widening range, steady climb.
func trendingCandles(n int) []types.Candle {
	out := make([]types.Candle, n)
	px := 100.0
	for i := range out {
		px *= 1.005
		out[i] = types.Candle{Open: px, High: px * 1.004, Low: px * 0.996, Close: px}
	}
	return out
}

func newTestGuard(cfg *config.Config, venue *fakeVenue, pred *fakePredictor) *Guard {
	mgr := position.NewManager(cfg, logging.Nop{}, venue, nil)
	return NewGuard(cfg, logging.Nop{}, venue, mgr, pred)
}

func guardConfig() *config.Config {
	cfg := config.Defaults()
	cfg.DryRun = true
	cfg.ATRPeriod = 3
	cfg.MinBalanceUSDT = 5
	cfg.ConfThreshold = 0.65
	cfg.MinEMASlope = 0.0001
	cfg.RSINeutralLow = 45
	cfg.RSINeutralHigh = 55
	return cfg
}

func TestEntryGateBalance(t *testing.T) {
	venue := &fakeVenue{balance: 1, candles: trendingCandles(120)}
	pred := &fakePredictor{signal: types.Signal{Direction: "long", Confidence: 0.9}}
	g := newTestGuard(guardConfig(), venue, pred)

	g.RunOnce()
	if pred.calls != 0 {
		t.Error("predictor consulted despite failing the balance gate")
	}
}

func TestEntryGateOpenOrders(t *testing.T) {
	venue := &fakeVenue{
		balance:    1000,
		candles:    trendingCandles(120),
		openOrders: []types.OpenOrder{{OrderID: "stale-1", Symbol: "BTCUSDT"}},
	}
	pred := &fakePredictor{signal: types.Signal{Direction: "long", Confidence: 0.9}}
	cfg := guardConfig()
	g := newTestGuard(cfg, venue, pred)

	g.RunOnce()
	if pred.calls != 0 {
		t.Error("predictor consulted despite open orders on the book")
	}
	if len(venue.cancelled) != 0 {
		t.Error("orders cancelled without auto-cancel enabled")
	}

	cfg.AutoCancel = true
	g.RunOnce()
	if len(venue.cancelled) != 1 || venue.cancelled[0] != "stale-1" {
		t.Errorf("auto-cancel cancelled %v, want [stale-1]", venue.cancelled)
	}
}

func TestEntryGateNoPyramid(t *testing.T) {
	venue := &fakeVenue{
		balance: 1000,
		candles: trendingCandles(120),
		ticker:  types.Ticker{Symbol: "BTCUSDT", LastPrice: 100},
		positions: []types.PositionInfo{
			{Symbol: "BTCUSDT", Side: "LONG", Size: 1, EntryPrice: 100},
		},
	}
	pred := &fakePredictor{signal: types.Signal{Direction: "long", Confidence: 0.9}}
	cfg := guardConfig()
	cfg.NoPyramid = true
	g := newTestGuard(cfg, venue, pred)

	g.RunOnce()
	if pred.calls != 0 {
		t.Error("predictor consulted despite an open position with no-pyramid set")
	}
}

func TestEntryGateConfidence(t *testing.T) {
	venue := &fakeVenue{
		balance: 1000,
		candles: trendingCandles(120),
		ticker:  types.Ticker{Symbol: "BTCUSDT", LastPrice: 100},
	}
	pred := &fakePredictor{signal: types.Signal{Direction: "long", Confidence: 0.4}}
	cfg := guardConfig()
	cfg.DryRun = false
	g := newTestGuard(cfg, venue, pred)

	g.RunOnce()
	if pred.calls != 1 {
		t.Fatalf("predictor calls = %d, want 1", pred.calls)
	}
	if len(venue.createdOrders) != 0 {
		t.Error("entry placed below the confidence threshold")
	}
}

func TestEntryGateHoldSignal(t *testing.T) {
	venue := &fakeVenue{
		balance: 1000,
		candles: trendingCandles(120),
		ticker:  types.Ticker{Symbol: "BTCUSDT", LastPrice: 100},
	}
	pred := &fakePredictor{signal: types.Signal{Direction: "hold", Confidence: 0.99}}
	cfg := guardConfig()
	cfg.DryRun = false
	g := newTestGuard(cfg, venue, pred)

	g.RunOnce()
	if len(venue.createdOrders) != 0 {
		t.Error("hold signal produced an order")
	}
}

func TestEntryGateRegimeFlat(t *testing.T) {
	// Perfectly flat series: BB width ~0, flat EMA, neutral RSI.
	flat := make([]types.Candle, 120)
	for i := range flat {
		flat[i] = types.Candle{Open: 100, High: 100.01, Low: 99.99, Close: 100}
	}
	venue := &fakeVenue{balance: 1000, candles: flat, ticker: types.Ticker{Symbol: "BTCUSDT", LastPrice: 100}}
	pred := &fakePredictor{signal: types.Signal{Direction: "long", Confidence: 0.9}}
	g := newTestGuard(guardConfig(), venue, pred)

	g.RunOnce()
	if pred.calls != 0 {
		t.Error("predictor consulted in a flat regime")
	}
}

func TestEntryAllGatesPass(t *testing.T) {
	venue := &fakeVenue{
		balance: 1000,
		candles: trendingCandles(120),
		ticker:  types.Ticker{Symbol: "BTCUSDT", LastPrice: 100},
		instr:   types.InstrumentInfo{MinQty: 0.001, QtyStep: 0.001, TickSize: 0.01},
	}
	pred := &fakePredictor{signal: types.Signal{Direction: "long", Confidence: 0.9}}
	cfg := guardConfig()
	cfg.DryRun = false
	g := newTestGuard(cfg, venue, pred)

	g.RunOnce()
	if len(venue.createdOrders) != 1 {
		t.Fatalf("placed %d orders, want 1 with all gates passing", len(venue.createdOrders))
	}
	if venue.createdOrders[0].Side != "Buy" {
		t.Errorf("entry side = %q, want Buy", venue.createdOrders[0].Side)
	}
}

func TestLockRejectsSecondInstance(t *testing.T) {
	lock, err := AcquireLock()
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	defer lock.Release()

	if _, err := AcquireLock(); err == nil {
		t.Error("second AcquireLock succeeded while the first is held")
	}

	lock.Release()
	relock, err := AcquireLock()
	if err != nil {
		t.Errorf("AcquireLock after release: %v", err)
	}
	relock.Release()
}
