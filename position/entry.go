package position

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"perp-guard/api"
	"perp-guard/internal/constants"
	"perp-guard/internal/utils"
	"perp-guard/levels"
	"perp-guard/metrics"
	"perp-guard/types"
)

// fillPollInterval is how often a placed entry order is re-checked for fill.
const fillPollInterval = 500 * time.Millisecond

// OpenPosition sizes, protects and submits a market entry for the symbol.
// Sizing is risk-based: qty = balance * RiskPct / stopDistance, bumped up to
// the instrument minimums and aligned to the lot step. Stop-loss and
// take-profit are attached with the entry order itself so the position is
// never unprotected.
func (m *Manager) OpenPosition(symbol, side string) types.EntryResult {
	side = utils.NormalizeSide(side)
	if side != constants.Long && side != constants.Short {
		return types.EntryResult{Status: types.EntryError, Reason: fmt.Sprintf("invalid side %q", side)}
	}

	balance, err := m.Client.GetBalance("USDT")
	if err != nil {
		return m.entryFailure(symbol, side, fmt.Errorf("balance check failed: %w", err))
	}
	if balance < m.Config.MinBalanceUSDT {
		return types.EntryResult{Status: types.EntryError, Reason: fmt.Sprintf("balance %.2f below minimum %.2f", balance, m.Config.MinBalanceUSDT)}
	}

	ticker, err := m.Client.GetTicker(symbol)
	if err != nil || ticker.LastPrice <= 0 {
		return m.entryFailure(symbol, side, fmt.Errorf("ticker unavailable: %w", err))
	}
	entry := ticker.LastPrice

	instr, err := m.instrumentInfo(symbol)
	if err != nil {
		return m.entryFailure(symbol, side, fmt.Errorf("instrument info unavailable: %w", err))
	}

	atr, _, err := m.atr(symbol)
	if err != nil {
		m.Logger.Warning("ATR unavailable for %s, falling back to percentage stops: %v", symbol, err)
		atr = 0
	}

	stopDist := atr * m.Config.SLATRMult
	if atr <= 0 {
		stopDist = entry * m.Config.SLFallbackPct
	}
	if stopDist <= 0 {
		return types.EntryResult{Status: types.EntryError, Reason: "stop distance is zero"}
	}

	qty := balance * m.Config.RiskPct / stopDist
	if qty < instr.MinQty {
		qty = instr.MinQty
	}
	if instr.MinNotional > 0 && qty*entry < instr.MinNotional {
		qty = instr.MinNotional / entry
	}
	qty = utils.FloorQtyToStep(qty, instr.QtyStep)
	if qty < instr.MinQty {
		// Flooring can undershoot the minimum; one step up restores it.
		qty = utils.FloorQtyToStep(instr.MinQty+instr.QtyStep, instr.QtyStep)
	}
	if qty <= 0 {
		return types.EntryResult{Status: types.EntryError, Reason: "computed quantity is zero"}
	}

	sl, tp := levels.EntryStops(entry, side, atr, m.Config)
	sl = utils.RoundPriceToTick(sl, instr.TickSize)
	tp = utils.RoundPriceToTick(tp, instr.TickSize)

	if m.Config.DryRun {
		m.Logger.Info("[DRY] Would open %s %s qty=%.8f entry~%.6f sl=%.6f tp=%.6f", symbol, side, qty, entry, sl, tp)
		return types.EntryResult{Status: types.EntryDry, Qty: qty, Price: entry, StopLoss: sl, TakeProfit: tp}
	}

	warned := false
	if err := m.Client.SetLeverage(symbol, m.Config.Leverage); err != nil {
		// Leverage-not-modified and similar warnings never block the entry.
		m.Logger.Warning("SetLeverage failed for %s (continuing): %v", symbol, err)
		warned = true
	}

	linkID := uuid.NewString()
	ack, err := m.Client.CreateOrder(types.CreateOrderParams{
		Symbol:      symbol,
		Side:        utils.OrderSide(side),
		OrderType:   constants.Market,
		Qty:         qty,
		TakeProfit:  tp,
		StopLoss:    sl,
		PositionIdx: positionIdx(side),
		LinkID:      linkID,
	})
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues(symbol, "error").Inc()
		m.record(types.TradeEvent{Event: "order_error", Symbol: symbol, Side: side, Qty: qty, LinkID: linkID, Extra: err.Error()})
		return m.entryFailure(symbol, side, err)
	}
	metrics.OrdersPlaced.WithLabelValues(symbol, "placed").Inc()
	m.record(types.TradeEvent{
		Event: "order_placed", Symbol: symbol, Side: side,
		Qty: qty, Price: entry, StopLoss: sl, TakeProfit: tp,
		OrderID: ack.OrderID, LinkID: linkID,
	})

	status, err := m.waitFill(ack.OrderID, symbol)
	if err != nil {
		m.Logger.Warning("Fill confirmation for %s order %s failed: %v", symbol, ack.OrderID, err)
		return types.EntryResult{Status: types.EntryWarning, Reason: "fill unconfirmed", Qty: qty, Price: entry, StopLoss: sl, TakeProfit: tp, OrderID: ack.OrderID}
	}
	if !status.Filled() {
		metrics.OrdersPlaced.WithLabelValues(symbol, "error").Inc()
		m.record(types.TradeEvent{Event: "order_error", Symbol: symbol, Side: side, OrderID: ack.OrderID, LinkID: linkID, Extra: "status=" + status.Status})
		return types.EntryResult{Status: types.EntryError, Reason: "order ended " + status.Status, OrderID: ack.OrderID}
	}

	fillPrice := status.AvgPrice
	if fillPrice <= 0 {
		fillPrice = entry
	}
	metrics.OrdersPlaced.WithLabelValues(symbol, "filled").Inc()
	m.record(types.TradeEvent{
		Event: "order_filled", Symbol: symbol, Side: side,
		Qty: status.CumQty, Price: fillPrice, StopLoss: sl, TakeProfit: tp,
		OrderID: ack.OrderID, LinkID: linkID,
	})
	m.Logger.Info("Opened %s %s qty=%.8f fill=%.6f sl=%.6f tp=%.6f", symbol, side, status.CumQty, fillPrice, sl, tp)

	st := types.EntryOK
	if warned {
		st = types.EntryWarning
	}
	return types.EntryResult{Status: st, Qty: status.CumQty, Price: fillPrice, StopLoss: sl, TakeProfit: tp, OrderID: ack.OrderID}
}

// waitFill polls the order until it reaches a final state or the configured
// timeout elapses.
func (m *Manager) waitFill(orderID, symbol string) (types.OrderStatus, error) {
	deadline := time.Now().Add(time.Duration(m.Config.WaitFillTimeoutSec) * time.Second)
	var last types.OrderStatus
	for {
		status, err := m.Client.GetOrder(orderID, symbol)
		if err == nil {
			last = status
			if status.Final() {
				return status, nil
			}
		} else {
			m.Logger.Debug("Order poll failed for %s: %v", orderID, err)
		}
		if time.Now().After(deadline) {
			if last.OrderID != "" {
				return last, fmt.Errorf("order %s not final after %ds (last status %q)", orderID, m.Config.WaitFillTimeoutSec, last.Status)
			}
			return types.OrderStatus{}, fmt.Errorf("order %s not confirmed after %ds", orderID, m.Config.WaitFillTimeoutSec)
		}
		time.Sleep(fillPollInterval)
	}
}

// entryFailure maps a venue error class onto the entry result contract:
// malformed parameters are worth a resize-and-retry next cycle, while margin,
// auth and unknown failures are terminal for this attempt.
func (m *Manager) entryFailure(symbol, side string, err error) types.EntryResult {
	m.Logger.Error("Entry failed for %s %s: %v", symbol, side, err)
	switch api.ErrorClass(err) {
	case api.ClassInvalidParams, api.ClassRetryable:
		return types.EntryResult{Status: types.EntryRetryable, Reason: err.Error()}
	default:
		return types.EntryResult{Status: types.EntryError, Reason: err.Error()}
	}
}
