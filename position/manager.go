// Package position owns the lifecycle of open positions: entry with initial
// protection, then per-cycle maintenance that attaches the trailing stop,
// moves the stop to break-even, and takes partial profit - each at most once
// per (symbol, side) while the position lives.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"perp-guard/config"
	"perp-guard/indicators"
	"perp-guard/interfaces"
	"perp-guard/internal/constants"
	"perp-guard/internal/utils"
	"perp-guard/levels"
	"perp-guard/logging"
	"perp-guard/metrics"
	"perp-guard/types"
)

// flagKey identifies one tracked position.
type flagKey struct {
	Symbol string
	Side   string
}

// lifecycleFlags are the one-shot transition markers for one position. Each
// moves false->true at most once and the whole entry is dropped when the
// position is observed closed.
type lifecycleFlags struct {
	TrailingAttached bool
	BreakevenDone    bool
	PartialTPDone    bool
}

// Manager drives the position lifecycle state machine.
type Manager struct {
	Config   *config.Config
	Logger   logging.LoggerInterface
	Client   interfaces.ExchangeClient
	Recorder interfaces.TradeRecorder
	Prices   interfaces.PriceSource // optional fast last-price feed, may be nil

	// mu guards flags: written by the polling goroutine, read by the
	// status server.
	mu    sync.RWMutex
	flags map[flagKey]*lifecycleFlags

	instrCache map[string]types.InstrumentInfo
}

// NewManager creates a position lifecycle manager.
func NewManager(cfg *config.Config, logger logging.LoggerInterface, client interfaces.ExchangeClient, recorder interfaces.TradeRecorder) *Manager {
	return &Manager{
		Config:     cfg,
		Logger:     logger,
		Client:     client,
		Recorder:   recorder,
		flags:      make(map[flagKey]*lifecycleFlags),
		instrCache: make(map[string]types.InstrumentInfo),
	}
}

// TrackedPosition is a view of one tracked position's lifecycle flags.
type TrackedPosition struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	TrailingAttached bool   `json:"trailingAttached"`
	BreakevenDone    bool   `json:"breakevenDone"`
	PartialTPDone    bool   `json:"partialTpDone"`
}

// Flags returns a copy of the lifecycle flags for one position, ok=false when
// the position is not tracked.
func (m *Manager) Flags(symbol, side string) (TrackedPosition, bool) {
	key := flagKey{Symbol: symbol, Side: utils.NormalizeSide(side)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[key]
	if !ok {
		return TrackedPosition{}, false
	}
	return TrackedPosition{
		Symbol:           key.Symbol,
		Side:             key.Side,
		TrailingAttached: f.TrailingAttached,
		BreakevenDone:    f.BreakevenDone,
		PartialTPDone:    f.PartialTPDone,
	}, true
}

// Tracked lists all positions the manager currently follows.
func (m *Manager) Tracked() []TrackedPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TrackedPosition, 0, len(m.flags))
	for key, f := range m.flags {
		out = append(out, TrackedPosition{
			Symbol:           key.Symbol,
			Side:             key.Side,
			TrailingAttached: f.TrailingAttached,
			BreakevenDone:    f.BreakevenDone,
			PartialTPDone:    f.PartialTPDone,
		})
	}
	return out
}

func (m *Manager) instrumentInfo(symbol string) (types.InstrumentInfo, error) {
	if info, ok := m.instrCache[symbol]; ok {
		return info, nil
	}
	info, err := m.Client.GetInstrumentInfo(symbol)
	if err != nil {
		return types.InstrumentInfo{}, err
	}
	m.instrCache[symbol] = info
	return info, nil
}

// positionIdx maps a side to the Bybit hedge-mode position index.
func positionIdx(side string) int {
	if utils.NormalizeSide(side) == constants.Short {
		return constants.PositionIdxShort
	}
	return constants.PositionIdxLong
}

// lastPrice prefers the WS ticker cache when it is fresh, otherwise asks REST.
func (m *Manager) lastPrice(symbol string) (float64, error) {
	if m.Prices != nil {
		if px, ok := m.Prices.LastPrice(symbol); ok {
			return px, nil
		}
	}
	t, err := m.Client.GetTicker(symbol)
	if err != nil {
		return 0, err
	}
	if t.LastPrice <= 0 {
		return 0, fmt.Errorf("ticker for %s returned no price", symbol)
	}
	return t.LastPrice, nil
}

// atr fetches candles on the configured ATR timeframe and computes the ATR.
// A zero ATR means insufficient data; callers fall back to percentage policies.
func (m *Manager) atr(symbol string) (float64, float64, error) {
	limit := m.Config.ATRPeriod + 1
	if limit < 100 {
		limit = 100
	}
	candles, err := m.Client.GetKlines(symbol, m.Config.ATRTimeframe, limit)
	if err != nil {
		return 0, 0, err
	}
	atr, lastClose := indicators.ATR(candles, m.Config.ATRPeriod)
	return atr, lastClose, nil
}

// HasOpenPosition reports whether any slot for the symbol holds size.
func (m *Manager) HasOpenPosition(symbol string) (bool, error) {
	positions, err := m.Client.GetPositions(symbol)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		if p.HasSize() {
			return true, nil
		}
	}
	return false, nil
}

// Maintain runs one maintenance pass for the symbol: observes the venue
// position state, drops flags for closed positions, and applies the pending
// one-shot protective transitions for open ones. Per-action failures are
// logged and retried naturally on the next cycle; only the initial position
// fetch error is returned.
func (m *Manager) Maintain(symbol string) error {
	positions, err := m.Client.GetPositions(symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch positions for %s: %w", symbol, err)
	}

	seen := make(map[flagKey]bool)
	for _, pos := range positions {
		if !pos.HasSize() || pos.Side == "" {
			continue
		}
		key := flagKey{Symbol: symbol, Side: pos.Side}
		seen[key] = true
		m.maintainOne(key, pos)
	}

	// Positions that vanished are closed: forget their one-shot history so a
	// future position on the same symbol/side starts clean.
	m.mu.Lock()
	var closed []flagKey
	for key := range m.flags {
		if key.Symbol == symbol && !seen[key] {
			delete(m.flags, key)
			closed = append(closed, key)
		}
	}
	m.mu.Unlock()
	for _, key := range closed {
		metrics.Transitions.WithLabelValues("closed").Inc()
		m.Logger.Info("Position closed: %s %s - lifecycle flags cleared", key.Symbol, key.Side)
	}
	return nil
}

// maintainOne advances the state machine for a single open position.
func (m *Manager) maintainOne(key flagKey, pos types.PositionInfo) {
	m.mu.RLock()
	flags, ok := m.flags[key]
	m.mu.RUnlock()
	if !ok {
		flags = m.adoptPosition(key, pos)
	}

	last, err := m.lastPrice(key.Symbol)
	if err != nil {
		m.Logger.Error("Maintenance skipped for %s %s: no price: %v", key.Symbol, key.Side, err)
		return
	}
	atr, _, err := m.atr(key.Symbol)
	if err != nil {
		m.Logger.Error("Maintenance skipped for %s %s: no candles: %v", key.Symbol, key.Side, err)
		return
	}

	if m.Config.UseTrailing && !flags.TrailingAttached {
		m.attachTrailing(key, pos, atr, flags)
	}
	if m.Config.EnableBreakeven && !flags.BreakevenDone {
		m.moveBreakeven(key, pos, last, atr, flags)
	}
	if m.Config.EnablePartialTP && !flags.PartialTPDone {
		m.takePartialProfit(key, pos, last, atr, flags)
	}
}

// adoptPosition starts tracking a position first seen this run. Remote state
// seeds what it can: a reported trailing stop marks that transition done, and
// a stop-loss already at or beyond the break-even target marks break-even
// done, so a restart does not repeat those submissions. The partial-TP flag
// has no remote footprint and always starts false.
func (m *Manager) adoptPosition(key flagKey, pos types.PositionInfo) *lifecycleFlags {
	flags := &lifecycleFlags{}

	switch pos.TrailingStop {
	case "", "0", "0.0", "None":
	default:
		flags.TrailingAttached = true
	}

	// A remote stop already sitting in the break-even band between the
	// trigger threshold and entry means a previous run moved it.
	if pos.StopLoss > 0 {
		if key.Side == constants.Long {
			if pos.StopLoss >= pos.EntryPrice*(1.0-m.Config.BETriggerPct) && pos.StopLoss < pos.EntryPrice {
				flags.BreakevenDone = true
			}
		} else {
			if pos.StopLoss <= pos.EntryPrice*(1.0+m.Config.BETriggerPct) && pos.StopLoss > pos.EntryPrice {
				flags.BreakevenDone = true
			}
		}
	}

	m.mu.Lock()
	m.flags[key] = flags
	m.mu.Unlock()
	m.Logger.Info("Tracking position %s %s entry=%.6f size=%.6f trailing=%v breakeven=%v",
		key.Symbol, key.Side, pos.EntryPrice, pos.Size, flags.TrailingAttached, flags.BreakevenDone)
	return flags
}

// markDone flips one lifecycle flag under the lock.
func (m *Manager) markDone(flag *bool) {
	m.mu.Lock()
	*flag = true
	m.mu.Unlock()
}

// attachTrailing performs PROTECTED -> TRAILING_ATTACHED. The remote
// protection state is the idempotency source of truth; the local flag only
// saves the roundtrip on later cycles.
func (m *Manager) attachTrailing(key flagKey, pos types.PositionInfo, atr float64, flags *lifecycleFlags) {
	state, err := m.Client.GetProtectionState(key.Symbol)
	if err != nil {
		m.Logger.Error("Trailing check failed for %s %s: %v", key.Symbol, key.Side, err)
		return
	}
	if state.HasTrailing {
		m.markDone(&flags.TrailingAttached)
		m.Logger.Info("Trailing already attached remotely for %s %s", key.Symbol, key.Side)
		return
	}

	activation, callback := levels.Trailing(pos.EntryPrice, key.Side, atr, m.Config)
	instr, err := m.instrumentInfo(key.Symbol)
	if err == nil {
		activation = utils.RoundPriceToTick(activation, instr.TickSize)
	}

	if m.Config.DryRun {
		m.Logger.Info("[DRY] Would attach trailing for %s %s: activation=%.6f callback=%.2f%%",
			key.Symbol, key.Side, activation, callback)
		m.markDone(&flags.TrailingAttached)
		return
	}

	if err := m.Client.SetTrailingStop(key.Symbol, activation, callback, positionIdx(key.Side), "LastPrice"); err != nil {
		m.Logger.Error("Failed to attach trailing for %s %s: %v", key.Symbol, key.Side, err)
		return
	}
	m.markDone(&flags.TrailingAttached)
	metrics.Transitions.WithLabelValues("trailing_attached").Inc()
	m.record(types.TradeEvent{
		Event:  "trailing_set",
		Symbol: key.Symbol,
		Side:   key.Side,
		Price:  activation,
		Extra:  fmt.Sprintf("callback=%.2f%%", callback),
	})
}

// moveBreakeven performs the one-shot break-even stop move. Unlike trailing
// there is no reliable remote marker, so the local flag is the only gate:
// firing twice could move the stop backward after the market ran further.
func (m *Manager) moveBreakeven(key flagKey, pos types.PositionInfo, last, atr float64, flags *lifecycleFlags) {
	bePrice, ok := levels.Breakeven(pos.EntryPrice, key.Side, last, atr, m.Config)
	if !ok {
		return
	}

	instr, err := m.instrumentInfo(key.Symbol)
	if err == nil {
		bePrice = utils.RoundPriceToTick(bePrice, instr.TickSize)
		// Tick rounding must not push the stop onto the wrong side of entry.
		if key.Side == constants.Long && bePrice >= pos.EntryPrice {
			bePrice -= instr.TickSize
		}
		if key.Side == constants.Short && bePrice <= pos.EntryPrice {
			bePrice += instr.TickSize
		}
	}

	if m.Config.DryRun {
		m.Logger.Info("[DRY] Would move stop to break-even for %s %s: sl=%.6f", key.Symbol, key.Side, bePrice)
		m.markDone(&flags.BreakevenDone)
		return
	}

	if err := m.Client.SetStopLoss(key.Symbol, bePrice, positionIdx(key.Side)); err != nil {
		m.Logger.Error("Failed to move stop to break-even for %s %s: %v", key.Symbol, key.Side, err)
		return
	}
	m.markDone(&flags.BreakevenDone)
	metrics.Transitions.WithLabelValues("breakeven").Inc()
	m.record(types.TradeEvent{
		Event:    "breakeven_set",
		Symbol:   key.Symbol,
		Side:     key.Side,
		StopLoss: bePrice,
	})
}

// takePartialProfit performs the one-shot reduce-only partial exit.
func (m *Manager) takePartialProfit(key flagKey, pos types.PositionInfo, last, atr float64, flags *lifecycleFlags) {
	instr, err := m.instrumentInfo(key.Symbol)
	if err != nil {
		m.Logger.Error("Partial TP skipped for %s %s: no instrument info: %v", key.Symbol, key.Side, err)
		return
	}

	closeQty, ok := levels.PartialTakeProfit(pos.EntryPrice, key.Side, last, atr, pos.Size, instr.QtyStep, m.Config)
	if !ok {
		return
	}
	if closeQty < instr.MinQty {
		m.Logger.Debug("Partial TP qty %.8f below minimum %.8f for %s - skipping permanently", closeQty, instr.MinQty, key.Symbol)
		m.markDone(&flags.PartialTPDone)
		return
	}

	if m.Config.DryRun {
		m.Logger.Info("[DRY] Would take partial profit for %s %s: qty=%.8f", key.Symbol, key.Side, closeQty)
		m.markDone(&flags.PartialTPDone)
		return
	}

	ack, err := m.Client.CreateOrder(types.CreateOrderParams{
		Symbol:      key.Symbol,
		Side:        utils.ClosingSide(key.Side),
		OrderType:   constants.Market,
		Qty:         closeQty,
		ReduceOnly:  true,
		PositionIdx: positionIdx(key.Side),
		LinkID:      uuid.NewString(),
	})
	if err != nil {
		m.Logger.Error("Failed to take partial profit for %s %s: %v", key.Symbol, key.Side, err)
		return
	}
	m.markDone(&flags.PartialTPDone)
	metrics.Transitions.WithLabelValues("partial_tp").Inc()
	m.record(types.TradeEvent{
		Event:   "partial_tp",
		Symbol:  key.Symbol,
		Side:    key.Side,
		Qty:     closeQty,
		Price:   last,
		OrderID: ack.OrderID,
		LinkID:  ack.LinkID,
	})
}

func (m *Manager) record(e types.TradeEvent) {
	if m.Recorder == nil {
		return
	}
	if e.Mode == "" {
		if m.Config.DryRun {
			e.Mode = "DRY"
		} else {
			e.Mode = "LIVE"
		}
	}
	e.Time = time.Now()
	if err := m.Recorder.Append(e); err != nil {
		m.Logger.Warning("Trade log append failed: %v", err)
	}
}
