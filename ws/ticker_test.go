package ws

import (
	"testing"
	"time"

	"perp-guard/config"
	"perp-guard/logging"
)

func newCache(maxAgeSec int) *TickerCache {
	cfg := config.Defaults()
	cfg.TickerMaxAgeSec = maxAgeSec
	return NewTickerCache(cfg, logging.Nop{})
}

func TestHandleMessageUpdatesPrice(t *testing.T) {
	c := newCache(10)
	c.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"50123.5"}}`))

	px, ok := c.LastPrice("BTCUSDT")
	if !ok || px != 50123.5 {
		t.Errorf("LastPrice = (%v, %v), want (50123.5, true)", px, ok)
	}
	if _, ok := c.LastPrice("ETHUSDT"); ok {
		t.Error("price reported for a symbol never seen")
	}
}

func TestHandleMessageDeltaWithoutPrice(t *testing.T) {
	c := newCache(10)
	c.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"50000"}}`))
	// Delta frame carrying other fields but no lastPrice keeps the old value.
	c.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT"}}`))

	px, ok := c.LastPrice("BTCUSDT")
	if !ok || px != 50000 {
		t.Errorf("LastPrice after delta = (%v, %v), want (50000, true)", px, ok)
	}
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	c := newCache(10)
	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"op":"pong"}`))
	c.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"-5"}}`))

	if _, ok := c.LastPrice("BTCUSDT"); ok {
		t.Error("garbage input produced a cached price")
	}
}

func TestLastPriceStaleness(t *testing.T) {
	c := newCache(1)
	c.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"50000"}}`))

	c.mu.Lock()
	entry := c.prices["BTCUSDT"]
	entry.at = time.Now().Add(-2 * time.Second)
	c.prices["BTCUSDT"] = entry
	c.mu.Unlock()

	if _, ok := c.LastPrice("BTCUSDT"); ok {
		t.Error("stale price reported as fresh")
	}
}
