package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RoundPriceToTick rounds a price to the nearest instrument tick.
func RoundPriceToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(tickSize)
	steps := p.Div(tick).Round(0)
	out, _ := steps.Mul(tick).Float64()
	return out
}

// FloorQtyToStep floors a quantity to the instrument lot step. Flooring, not
// rounding: a rounded-up quantity can exceed the risk budget or the balance.
func FloorQtyToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	st := decimal.NewFromFloat(step)
	steps := q.Div(st).Floor()
	out, _ := steps.Mul(st).Float64()
	return out
}

// stepDecimals counts the decimal places of a step like 0.001.
func stepDecimals(step float64) int32 {
	d := decimal.NewFromFloat(step)
	return -d.Exponent()
}

// PriceString renders a price snapped to the tick with the tick's precision.
// Bybit v5 wants numeric payload fields as strings.
func PriceString(price, tickSize float64) string {
	if tickSize <= 0 {
		return decimal.NewFromFloat(price).String()
	}
	dec := stepDecimals(tickSize)
	if dec < 0 {
		dec = 0
	}
	return decimal.NewFromFloat(RoundPriceToTick(price, tickSize)).StringFixed(dec)
}

// QtyString renders a quantity floored to the lot step with the step's precision.
func QtyString(qty, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(qty).String()
	}
	dec := stepDecimals(step)
	if dec < 0 {
		dec = 0
	}
	return decimal.NewFromFloat(FloorQtyToStep(qty, step)).StringFixed(dec)
}

// NormalizeSide maps venue and signal spellings to LONG/SHORT.
func NormalizeSide(side string) string {
	switch strings.ToUpper(side) {
	case "BUY", "LONG":
		return "LONG"
	case "SELL", "SHORT":
		return "SHORT"
	default:
		return ""
	}
}

// OrderSide maps a position side to the venue order side for entries.
func OrderSide(side string) string {
	switch NormalizeSide(side) {
	case "LONG":
		return "Buy"
	case "SHORT":
		return "Sell"
	default:
		return ""
	}
}

// ClosingSide maps a position side to the venue order side that reduces it.
func ClosingSide(side string) string {
	switch NormalizeSide(side) {
	case "LONG":
		return "Sell"
	case "SHORT":
		return "Buy"
	default:
		return ""
	}
}
