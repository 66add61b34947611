package types

import (
	"time"
)

// Candle is a single OHLCV bar; series are ordered by ascending time.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// InstrumentInfo holds instrument-specific trading constraints
type InstrumentInfo struct {
	MinNotional float64
	MinQty      float64
	QtyStep     float64
	TickSize    float64
}

// Ticker is the subset of the venue ticker the guard needs
type Ticker struct {
	Symbol    string
	LastPrice float64
	Time      time.Time
}

// PositionInfo is a snapshot of one venue position slot
type PositionInfo struct {
	Symbol     string
	Side       string // LONG / SHORT, empty when flat
	Size       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	// TrailingStop is the raw callback value the venue reports; "" or "0" means none.
	TrailingStop string
}

// HasSize reports whether the slot actually holds an open position.
func (p PositionInfo) HasSize() bool {
	return p.Size > 0
}

// ProtectionState is what the venue currently has attached to a position
type ProtectionState struct {
	HasTrailing bool
	StopLoss    float64
}

// CreateOrderParams describes one order submission
type CreateOrderParams struct {
	Symbol      string
	Side        string // Buy / Sell
	OrderType   string // Market / Limit
	Qty         float64
	Price       float64 // 0 for market orders
	TakeProfit  float64 // optional, attached with the entry
	StopLoss    float64 // optional, attached with the entry
	ReduceOnly  bool
	TimeInForce string
	PositionIdx int
	LinkID      string
}

// OrderAck is the venue acknowledgement for a placed order
type OrderAck struct {
	OrderID string
	LinkID  string
}

// OrderStatus is a polled order state
type OrderStatus struct {
	OrderID  string
	Status   string // New / PartiallyFilled / Filled / Cancelled / Rejected / Deactivated
	AvgPrice float64
	CumQty   float64
}

// Filled reports whether the order reached the filled state.
func (o OrderStatus) Filled() bool {
	return o.Status == "Filled"
}

// Final reports whether the venue will not change the order further.
func (o OrderStatus) Final() bool {
	switch o.Status {
	case "Filled", "Cancelled", "Rejected", "Deactivated":
		return true
	}
	return false
}

// OpenOrder is an unresolved order on the book
type OpenOrder struct {
	OrderID string
	Symbol  string
	Side    string
	Qty     float64
}

// Signal is one per-symbol prediction, consumed the cycle it is produced
type Signal struct {
	Direction     string // long / short / hold
	Confidence    float64
	Probabilities map[string]float64
}

// Actionable reports whether the signal asks for an entry at all.
func (s Signal) Actionable() bool {
	return s.Direction == "long" || s.Direction == "short"
}

// IndicatorSnapshot carries the values the regime filter and debug logs look at
type IndicatorSnapshot struct {
	Close      float64
	EMA12      float64
	EMA26      float64
	EMA50      float64
	EMA50Slope float64
	MACD       float64
	MACDSignal float64
	RSI14      float64
	BBMid      float64
	BBUpper    float64
	BBLower    float64
	BBWidth    float64
}

// TradeEvent is one row of the append-only audit log
type TradeEvent struct {
	Time       time.Time
	Event      string // order_placed / order_filled / order_error / trailing_set / breakeven_set / partial_tp
	Symbol     string
	Side       string
	Qty        float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	OrderID    string
	LinkID     string
	Mode       string // LIVE / DRY
	Extra      string
}

// EntryStatus classifies the outcome of an entry attempt
type EntryStatus string

const (
	EntryOK        EntryStatus = "ok"
	EntryWarning   EntryStatus = "ok_with_warning"
	EntryRetryable EntryStatus = "retryable"
	EntryError     EntryStatus = "error"
	EntryDry       EntryStatus = "dry"
)

// EntryResult is what OpenPosition hands back to the polling loop
type EntryResult struct {
	Status     EntryStatus
	Reason     string
	Qty        float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	OrderID    string
}
