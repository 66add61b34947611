package interfaces

import (
	"perp-guard/types"
)

// ExchangeClient defines the venue operations the guard depends on.
// api.RESTClient implements it against Bybit v5; tests inject fakes.
type ExchangeClient interface {
	// Market data
	GetKlines(symbol, interval string, limit int) ([]types.Candle, error)
	GetTicker(symbol string) (types.Ticker, error)
	GetInstrumentInfo(symbol string) (types.InstrumentInfo, error)

	// Account
	GetBalance(coin string) (float64, error)
	SetLeverage(symbol string, leverage int) error

	// Orders
	CreateOrder(p types.CreateOrderParams) (types.OrderAck, error)
	GetOrder(orderID, symbol string) (types.OrderStatus, error)
	GetOpenOrders(symbol string) ([]types.OpenOrder, error)
	CancelOrder(orderID, symbol string) error

	// Position control
	GetPositions(symbol string) ([]types.PositionInfo, error)
	GetProtectionState(symbol string) (types.ProtectionState, error)
	SetTrailingStop(symbol string, activationPrice, callbackRatePct float64, positionIdx int, triggerBy string) error
	SetStopLoss(symbol string, price float64, positionIdx int) error
}

// Predictor is the trend-prediction capability. Implementations must return a
// hold signal with zero confidence when no model is available for the symbol.
type Predictor interface {
	PredictTrend(symbol, timeframe string) (types.Signal, error)
}

// TradeRecorder appends audit events; it is never read back by the core.
type TradeRecorder interface {
	Append(e types.TradeEvent) error
}

// PriceSource supplies a recent last price for a symbol. The WS ticker cache
// implements it; ok is false when the price is missing or stale.
type PriceSource interface {
	LastPrice(symbol string) (price float64, ok bool)
}
