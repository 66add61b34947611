package constants

// Position sides
const (
	Long  = "LONG"
	Short = "SHORT"
)

// Order sides
const (
	Buy  = "Buy"
	Sell = "Sell"
)

// Order types
const (
	Market = "Market"
	Limit  = "Limit"
)

// Bybit v5 position indexes for hedge mode
const (
	PositionIdxOneWay = 0
	PositionIdxLong   = 1
	PositionIdxShort  = 2
)

// Kline timeframes (Bybit interval strings)
const (
	Minute1  = "1"
	Minute5  = "5"
	Minute15 = "15"
	Hour1    = "60"
	Hour4    = "240"
)

// Default indicator parameters
const (
	DefaultATRPeriod       = 14
	DefaultRSIPeriod       = 14
	DefaultBollingerWindow = 20
	DefaultBollingerMult   = 2.0
	DefaultMACDFast        = 12
	DefaultMACDSlow        = 26
	DefaultMACDSignal      = 9
)

// Venue limits for the trailing callback rate, percent
const (
	MinCallbackRatePct = 0.1
	MaxCallbackRatePct = 5.0
)
