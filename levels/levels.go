// Package levels holds the pure protective-level calculators: entry SL/TP,
// trailing activation and callback, break-even target, and the partial
// take-profit trigger. Nothing here touches the network or the clock.
package levels

import (
	"perp-guard/config"
	"perp-guard/internal/constants"
	"perp-guard/internal/utils"
)

// EntryStops derives the stop-loss / take-profit pair for a fresh entry.
// With a usable ATR the distances are atr*SLATRMult and atr*TPATRMult; with
// ATR unavailable (<= 0) it falls back to percentage distances so the stop
// distance is never zero.
func EntryStops(entry float64, side string, atr float64, cfg *config.Config) (sl, tp float64) {
	slDist := atr * cfg.SLATRMult
	tpDist := atr * cfg.TPATRMult
	if atr <= 0 {
		slDist = entry * cfg.SLFallbackPct
		tpDist = entry * cfg.TPFallbackPct
	}

	if utils.NormalizeSide(side) == constants.Long {
		return entry - slDist, entry + tpDist
	}
	return entry + slDist, entry - tpDist
}

// ClampCallbackRate forces a trailing callback into the venue's accepted
// range of 0.1..5.0 percent.
func ClampCallbackRate(pct float64) float64 {
	if pct < constants.MinCallbackRatePct {
		return constants.MinCallbackRatePct
	}
	if pct > constants.MaxCallbackRatePct {
		return constants.MaxCallbackRatePct
	}
	return pct
}

// TrailingFromATR computes the trailing activation price and callback rate
// from a usable ATR.
//
//	long:  activation = entry + max(k*atr, entry*minUpPct)
//	short: activation = entry - max(k*atr, entry*minDownPct)
//
// The callback is either the fixed configured percentage or, in auto mode,
// 100 * (autoK * atr / entry); both are clamped to the venue range.
func TrailingFromATR(entry float64, side string, atr float64, cfg *config.Config) (activation, callbackPct float64) {
	if utils.NormalizeSide(side) == constants.Long {
		activation = entry + max(cfg.ActivationATRK*atr, entry*cfg.MinUpPct)
	} else {
		activation = entry - max(cfg.ActivationATRK*atr, entry*cfg.MinDownPct)
	}

	if cfg.AutoCallback {
		denom := entry
		if denom <= 0 {
			denom = 1e-12
		}
		callbackPct = 100.0 * (cfg.AutoCallbackATRK * atr / denom)
	} else {
		callbackPct = cfg.CallbackRatePct
	}
	return activation, ClampCallbackRate(callbackPct)
}

// TrailingFromPct is the percentage-only activation used when ATR is
// unavailable or activation_mode is "pct".
func TrailingFromPct(entry float64, side string, cfg *config.Config) (activation, callbackPct float64) {
	if utils.NormalizeSide(side) == constants.Long {
		activation = entry * (1.0 + max(cfg.MinUpPct, cfg.ActivationUpPct))
	} else {
		activation = entry * (1.0 - max(cfg.MinDownPct, cfg.ActivationDownPct))
	}
	return activation, ClampCallbackRate(cfg.CallbackRatePct)
}

// Trailing picks the ATR or percentage path per configuration, falling back
// to the percentage path when ATR is unavailable.
func Trailing(entry float64, side string, atr float64, cfg *config.Config) (activation, callbackPct float64) {
	if cfg.ActivationMode == "atr" && atr > 0 {
		return TrailingFromATR(entry, side, atr, cfg)
	}
	return TrailingFromPct(entry, side, cfg)
}

// Breakeven returns the stop-loss price that moves the position to break-even
// and ok=true once the market moved in-favor by the configured threshold
// (BEATRK*atr in atr mode with a usable ATR, BETriggerPct*entry otherwise).
// The result is clamped to stay strictly on the protective side of entry by
// at least BEEpsilonPct: the venue rejects a stop placed at or across the
// reference price.
func Breakeven(entry float64, side string, last, atr float64, cfg *config.Config) (float64, bool) {
	long := utils.NormalizeSide(side) == constants.Long

	inProfit := last - entry
	if !long {
		inProfit = entry - last
	}

	var need float64
	if cfg.BEMode == "atr" && atr > 0 {
		need = cfg.BEATRK * atr
	} else {
		need = cfg.BETriggerPct * entry
	}
	if inProfit < need {
		return 0, false
	}

	var price float64
	if long {
		price = entry * (1.0 + cfg.BEOffsetPct)
		ceiling := entry * (1.0 - cfg.BEEpsilonPct)
		if price > ceiling {
			price = ceiling
		}
	} else {
		price = entry * (1.0 - cfg.BEOffsetPct)
		floor := entry * (1.0 + cfg.BEEpsilonPct)
		if price < floor {
			price = floor
		}
	}
	return price, true
}

// PartialTakeProfit reports the reduce-only quantity to close once price has
// moved PartialTPRMult*atr in favor of the position. Requires a usable ATR;
// the returned quantity is the configured fraction floored to the lot step.
func PartialTakeProfit(entry float64, side string, last, atr, qty, lotStep float64, cfg *config.Config) (float64, bool) {
	if atr <= 0 || qty <= 0 {
		return 0, false
	}

	inProfit := last - entry
	if utils.NormalizeSide(side) == constants.Short {
		inProfit = entry - last
	}
	if inProfit < cfg.PartialTPRMult*atr {
		return 0, false
	}

	closeQty := utils.FloorQtyToStep(qty*cfg.PartialTPFraction, lotStep)
	if closeQty <= 0 {
		return 0, false
	}
	return closeQty, true
}
