package api

import (
	"strconv"
	"time"

	"github.com/jpillora/backoff"

	"perp-guard/metrics"
	"perp-guard/types"
)

// retryCap bounds one backoff sleep regardless of attempt count.
const retryCap = 2 * time.Second

// withRetry runs fn, retrying only retryable-classified venue errors with
// exponential backoff (base delay doubled per attempt, capped). After
// MaxRetries attempts the last error is surfaced to the caller.
func (c *RESTClient) withRetry(endpoint string, fn func() error) error {
	maxAttempts := c.Config.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := &backoff.Backoff{
		Min:    time.Duration(c.Config.RetryBaseDelayMs) * time.Millisecond,
		Max:    retryCap,
		Factor: 2,
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		delay := b.Duration()
		metrics.Retries.WithLabelValues(endpoint).Inc()
		c.Logger.Debug("Retry %d/%d for %s in %s: %v", attempt, maxAttempts, endpoint, delay, err)
		time.Sleep(delay)
	}
	return err
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetTrailingStop attaches a trailing stop to the position via
// POST /v5/position/trading-stop. Numeric parameters go as strings; the venue
// rejects them otherwise. Submitting identical parameters twice yields a
// "not modified" ack, which is success.
func (c *RESTClient) SetTrailingStop(symbol string, activationPrice, callbackRatePct float64, positionIdx int, triggerBy string) error {
	const path = "/v5/position/trading-stop"
	if triggerBy == "" {
		triggerBy = "LastPrice"
	}
	body := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"tpslMode":     "Full",
		"positionIdx":  positionIdx,
		"trailingStop": formatNum(callbackRatePct),
		"activePrice":  formatNum(activationPrice),
		"tpOrderType":  "Market",
		"slOrderType":  "Market",
		"tpTriggerBy":  triggerBy,
		"slTriggerBy":  triggerBy,
	}

	err := c.withRetry(path, func() error {
		var r struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
		}
		if err := c.postJSON(path, body, &r); err != nil {
			return err
		}
		return c.checkRet(r.RetCode, r.RetMsg, path)
	})
	if err != nil {
		return err
	}
	metrics.ProtectiveUpdates.WithLabelValues("trailing").Inc()
	c.Logger.Info("Trailing stop set: %s active=%s callback=%s%% idx=%d", symbol, formatNum(activationPrice), formatNum(callbackRatePct), positionIdx)
	return nil
}

// SetStopLoss moves only the stop-loss of the position, same endpoint and
// idempotency contract as SetTrailingStop.
func (c *RESTClient) SetStopLoss(symbol string, price float64, positionIdx int) error {
	const path = "/v5/position/trading-stop"
	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": positionIdx,
		"stopLoss":    formatNum(price),
		"slOrderType": "Market",
		"slTriggerBy": "LastPrice",
	}

	err := c.withRetry(path, func() error {
		var r struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
		}
		if err := c.postJSON(path, body, &r); err != nil {
			return err
		}
		return c.checkRet(r.RetCode, r.RetMsg, path)
	})
	if err != nil {
		return err
	}
	metrics.ProtectiveUpdates.WithLabelValues("stop_loss").Inc()
	c.Logger.Info("Stop loss set: %s sl=%s idx=%d", symbol, formatNum(price), positionIdx)
	return nil
}

// GetProtectionState reports whether the position already carries a trailing
// stop and where its stop-loss sits. Used as the remote idempotency check
// before attaching trailing.
func (c *RESTClient) GetProtectionState(symbol string) (types.ProtectionState, error) {
	positions, err := c.GetPositions(symbol)
	if err != nil {
		return types.ProtectionState{}, err
	}

	state := types.ProtectionState{}
	for _, p := range positions {
		if !p.HasSize() {
			continue
		}
		switch p.TrailingStop {
		case "", "0", "0.0", "None":
		default:
			state.HasTrailing = true
		}
		if p.StopLoss > 0 {
			state.StopLoss = p.StopLoss
		}
	}
	return state, nil
}
