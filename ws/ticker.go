// Package ws maintains a public-stream ticker cache used as a fast last-price
// source. REST stays the fallback when the cache is cold or stale.
package ws

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"perp-guard/config"
	"perp-guard/logging"
)

// TickerCache keeps the latest traded price per symbol from the public WS
// ticker stream. It implements interfaces.PriceSource.
type TickerCache struct {
	config *config.Config
	logger logging.LoggerInterface

	connMutex sync.Mutex
	conn      *websocket.Conn

	mu     sync.RWMutex
	prices map[string]tickerEntry

	done chan struct{}
	once sync.Once
}

type tickerEntry struct {
	price float64
	at    time.Time
}

// NewTickerCache creates a ticker cache for the configured pairs.
func NewTickerCache(cfg *config.Config, log logging.LoggerInterface) *TickerCache {
	return &TickerCache{
		config: cfg,
		logger: log,
		prices: make(map[string]tickerEntry),
		done:   make(chan struct{}),
	}
}

// LastPrice returns the cached price for symbol, ok=false when it is missing
// or older than the configured freshness window.
func (t *TickerCache) LastPrice(symbol string) (float64, bool) {
	t.mu.RLock()
	entry, ok := t.prices[symbol]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	maxAge := time.Duration(t.config.TickerMaxAgeSec) * time.Second
	if maxAge > 0 && time.Since(entry.at) > maxAge {
		return 0, false
	}
	return entry.price, true
}

// Start connects and runs the read loop in the background, reconnecting with
// backoff until Stop is called.
func (t *TickerCache) Start() {
	go t.run()
}

// Stop closes the connection and ends the read loop.
func (t *TickerCache) Stop() {
	t.once.Do(func() {
		close(t.done)
		t.connMutex.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.connMutex.Unlock()
	})
}

func (t *TickerCache) run() {
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		select {
		case <-t.done:
			return
		default:
		}

		if err := t.connect(); err != nil {
			delay := b.Duration()
			t.logger.Warning("Ticker WS connect failed, retrying in %s: %v", delay, err)
			select {
			case <-t.done:
				return
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()

		stopPing := t.startPingTicker()
		t.readLoop()
		stopPing()

		select {
		case <-t.done:
			return
		default:
			t.logger.Warning("Ticker WS disconnected, reconnecting")
		}
	}
}

func (t *TickerCache) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(t.config.WSPublicURL, nil)
	if err != nil {
		return err
	}

	topics := make([]string, 0, len(t.config.Pairs))
	for _, pair := range t.config.Pairs {
		topics = append(topics, "tickers."+pair)
	}
	if err := conn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": topics,
	}); err != nil {
		conn.Close()
		return err
	}

	t.connMutex.Lock()
	t.conn = conn
	t.connMutex.Unlock()
	t.logger.Info("Ticker WS connected, subscribed to %d topics", len(topics))
	return nil
}

func (t *TickerCache) startPingTicker() func() {
	ticker := time.NewTicker(20 * time.Second)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.connMutex.Lock()
				if t.conn != nil {
					t.conn.WriteJSON(map[string]interface{}{"op": "ping"})
				}
				t.connMutex.Unlock()
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(stop)
	}
}

func (t *TickerCache) readLoop() {
	t.connMutex.Lock()
	conn := t.conn
	t.connMutex.Unlock()
	if conn == nil {
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Debug("Ticker WS read: %v", err)
			}
			return
		}
		t.handleMessage(raw)
	}
}

// handleMessage applies one ticker push to the cache. Ticker frames are
// deltas: lastPrice may be absent, in which case the cached value stands and
// only the freshness timestamp advances.
func (t *TickerCache) handleMessage(raw []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.Symbol == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.prices[msg.Data.Symbol]
	if msg.Data.LastPrice != "" {
		if p, err := strconv.ParseFloat(msg.Data.LastPrice, 64); err == nil && p > 0 {
			entry.price = p
		}
	}
	if entry.price > 0 {
		entry.at = time.Now()
		t.prices[msg.Data.Symbol] = entry
	}
}
