// Package guard runs the polling loop: one sequential pass over the
// configured pairs per cycle, maintaining open positions first and gating new
// entries behind the balance, order, pyramid, regime and confidence checks.
package guard

import (
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perp-guard/config"
	"perp-guard/indicators"
	"perp-guard/interfaces"
	"perp-guard/logging"
	"perp-guard/metrics"
	"perp-guard/position"
	"perp-guard/types"
)

// heartbeatEvery bounds how often the loop logs that it is alive.
const heartbeatEvery = 15 * time.Second

// Guard ties the lifecycle manager, predictor and venue client into the
// polling loop.
type Guard struct {
	Config    *config.Config
	Logger    logging.LoggerInterface
	Client    interfaces.ExchangeClient
	Manager   *position.Manager
	Predictor interfaces.Predictor

	lastHeartbeat time.Time
}

// NewGuard creates the polling loop driver.
func NewGuard(cfg *config.Config, log logging.LoggerInterface, client interfaces.ExchangeClient, mgr *position.Manager, pred interfaces.Predictor) *Guard {
	return &Guard{
		Config:    cfg,
		Logger:    log,
		Client:    client,
		Manager:   mgr,
		Predictor: pred,
	}
}

// Run executes cycles at the configured interval until SIGINT or SIGTERM.
func (g *Guard) Run() {
	interval := time.Duration(g.Config.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	g.Logger.Info("Guard started: pairs=%v interval=%s dry_run=%t", g.Config.Pairs, interval, g.Config.DryRun)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.RunOnce()
	for {
		select {
		case sig := <-signals:
			g.Logger.Info("Received signal %s, shutting down gracefully...", sig)
			return
		case <-ticker.C:
			g.RunOnce()
		}
	}
}

// RunOnce performs a single cycle over all pairs. Per-symbol failures are
// contained; the cycle always visits every pair.
func (g *Guard) RunOnce() {
	start := time.Now()
	for _, symbol := range g.Config.Pairs {
		g.cycleSymbol(symbol)
	}
	metrics.CycleSeconds.Set(time.Since(start).Seconds())

	if time.Since(g.lastHeartbeat) >= heartbeatEvery {
		g.lastHeartbeat = time.Now()
		metrics.Heartbeats.Inc()
		g.Logger.Info("Heartbeat: cycle over %d pairs took %s", len(g.Config.Pairs), time.Since(start).Round(time.Millisecond))
	}
}

func (g *Guard) cycleSymbol(symbol string) {
	if err := g.Manager.Maintain(symbol); err != nil {
		g.Logger.Error("Maintenance failed for %s: %v", symbol, err)
		return
	}
	g.tryEnter(symbol)
}

// tryEnter walks the entry gates in order and opens a position only when all
// of them pass. Gate rejections are normal flow, logged at debug.
func (g *Guard) tryEnter(symbol string) {
	balance, err := g.Client.GetBalance("USDT")
	if err != nil {
		g.Logger.Error("Balance check failed for %s: %v", symbol, err)
		return
	}
	if balance < g.Config.MinBalanceUSDT {
		metrics.EntrySkips.WithLabelValues("balance").Inc()
		g.Logger.Debug("Entry skipped for %s: balance %.2f below %.2f", symbol, balance, g.Config.MinBalanceUSDT)
		return
	}

	if !g.passOpenOrdersGate(symbol) {
		return
	}

	if g.Config.NoPyramid {
		open, err := g.Manager.HasOpenPosition(symbol)
		if err != nil {
			g.Logger.Error("Position check failed for %s: %v", symbol, err)
			return
		}
		if open {
			metrics.EntrySkips.WithLabelValues("pyramid").Inc()
			g.Logger.Debug("Entry skipped for %s: position already open", symbol)
			return
		}
	}

	if !g.passRegimeGate(symbol) {
		return
	}

	sig, err := g.Predictor.PredictTrend(symbol, g.Config.Timeframe)
	if err != nil {
		g.Logger.Error("Prediction failed for %s: %v", symbol, err)
		return
	}
	if !sig.Actionable() || sig.Confidence < g.Config.ConfThreshold {
		metrics.EntrySkips.WithLabelValues("confidence").Inc()
		g.Logger.Debug("Entry skipped for %s: signal=%s confidence=%.2f threshold=%.2f",
			symbol, sig.Direction, sig.Confidence, g.Config.ConfThreshold)
		return
	}

	g.Logger.Info("Entry signal for %s: %s confidence=%.2f", symbol, sig.Direction, sig.Confidence)
	result := g.Manager.OpenPosition(symbol, sig.Direction)
	switch result.Status {
	case types.EntryOK, types.EntryWarning:
		g.Logger.Info("Entry done for %s: qty=%.8f price=%.6f status=%s", symbol, result.Qty, result.Price, result.Status)
	case types.EntryDry:
		g.Logger.Info("Entry simulated for %s: qty=%.8f price=%.6f", symbol, result.Qty, result.Price)
	case types.EntryRetryable:
		g.Logger.Warning("Entry for %s will be retried next cycle: %s", symbol, result.Reason)
	default:
		g.Logger.Error("Entry failed for %s: %s", symbol, result.Reason)
	}
}

// passOpenOrdersGate rejects entry while unresolved orders sit on the book,
// optionally cancelling them first so the next cycle is clean.
func (g *Guard) passOpenOrdersGate(symbol string) bool {
	orders, err := g.Client.GetOpenOrders(symbol)
	if err != nil {
		g.Logger.Error("Open order check failed for %s: %v", symbol, err)
		return false
	}
	if len(orders) == 0 {
		return true
	}

	if g.Config.AutoCancel {
		for _, o := range orders {
			if err := g.Client.CancelOrder(o.OrderID, symbol); err != nil {
				g.Logger.Warning("Cancel of stale order %s failed: %v", o.OrderID, err)
			} else {
				g.Logger.Info("Cancelled stale order %s for %s", o.OrderID, symbol)
			}
		}
	}
	metrics.EntrySkips.WithLabelValues("open_orders").Inc()
	g.Logger.Debug("Entry skipped for %s: %d open orders", symbol, len(orders))
	return false
}

// passRegimeGate blocks entries in flat or directionless markets: tight
// Bollinger bands, a flat EMA50 or an RSI stuck in the neutral band.
func (g *Guard) passRegimeGate(symbol string) bool {
	candles, err := g.Client.GetKlines(symbol, g.Config.Timeframe, 200)
	if err != nil {
		g.Logger.Error("Regime candles failed for %s: %v", symbol, err)
		return false
	}
	snap, ok := indicators.Snapshot(candles)
	if !ok {
		g.Logger.Debug("Entry skipped for %s: not enough candles for regime check", symbol)
		metrics.EntrySkips.WithLabelValues("regime").Inc()
		return false
	}

	if snap.BBWidth < g.Config.MinBBWidth {
		metrics.EntrySkips.WithLabelValues("regime").Inc()
		g.Logger.Debug("Entry skipped for %s: bb_width %.5f below %.5f", symbol, snap.BBWidth, g.Config.MinBBWidth)
		return false
	}
	if math.Abs(snap.EMA50Slope) < g.Config.MinEMASlope {
		metrics.EntrySkips.WithLabelValues("regime").Inc()
		g.Logger.Debug("Entry skipped for %s: ema50 slope %.6f too flat", symbol, snap.EMA50Slope)
		return false
	}
	if snap.RSI14 > g.Config.RSINeutralLow && snap.RSI14 < g.Config.RSINeutralHigh {
		metrics.EntrySkips.WithLabelValues("regime").Inc()
		g.Logger.Debug("Entry skipped for %s: rsi %.1f inside neutral band", symbol, snap.RSI14)
		return false
	}
	return true
}
