package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"perp-guard/config"
	"perp-guard/internal/constants"
	"perp-guard/internal/utils"
	"perp-guard/logging"
	"perp-guard/types"
)

// RESTClient talks to the Bybit v5 REST API with HMAC-signed requests.
type RESTClient struct {
	Config *config.Config
	Logger logging.LoggerInterface
	HTTP   *http.Client
}

// NewRESTClient creates a REST API client, wiring the optional proxy.
func NewRESTClient(cfg *config.Config, logger logging.LoggerInterface) (*RESTClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &RESTClient{
		Config: cfg,
		Logger: logger,
		HTTP: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
	}, nil
}

// SignREST signs a request payload per the Bybit v5 header scheme.
func (c *RESTClient) SignREST(timestamp, payload string) string {
	base := timestamp + c.Config.APIKey + c.Config.RecvWindow + payload
	mac := hmac.New(sha256.New, []byte(c.Config.APISecret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTClient) setAuthHeaders(req *http.Request, ts, payload string) {
	req.Header.Set("X-BAPI-API-KEY", c.Config.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.Config.RecvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", c.SignREST(ts, payload))
}

// getJSON performs a signed GET and decodes the body into out.
func (c *RESTClient) getJSON(path string, q url.Values, out interface{}) error {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	req, err := http.NewRequest(http.MethodGet, c.Config.RESTHost+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	c.setAuthHeaders(req, ts, q.Encode())
	return c.do(req, path, out)
}

// postJSON performs a signed POST with a JSON body and decodes the reply into out.
func (c *RESTClient) postJSON(path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body for %s: %w", path, err)
	}
	c.Logger.Debug("POST %s body=%s", path, string(raw))

	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	req, err := http.NewRequest(http.MethodPost, c.Config.RESTHost+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, ts, string(raw))
	return c.do(req, path, out)
}

func (c *RESTClient) do(req *http.Request, path string, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Logger.Error("Request to %s failed: %v", path, err)
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	c.Logger.Debug("Response from %s: status=%d body=%s", path, resp.StatusCode, string(body))

	// HTTP-level rate limiting surfaces before the JSON envelope does.
	if resp.StatusCode == http.StatusTooManyRequests {
		return newVenueError(10006, "HTTP 429 Too Many Requests", path)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// checkRet converts a response envelope into nil or a classified error.
// "Not modified" codes are logged and swallowed: resubmitting identical
// protective parameters is not a failure.
func (c *RESTClient) checkRet(retCode int, retMsg, endpoint string) error {
	switch Classify(retCode) {
	case ClassOK:
		return nil
	case ClassNotModified:
		c.Logger.Warning("Bybit retCode=%d (%s) on %s - treating as OK", retCode, retMsg, endpoint)
		return nil
	default:
		return newVenueError(retCode, retMsg, endpoint)
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// GetKlines fetches up to limit candles for the symbol/interval, ascending by time.
func (c *RESTClient) GetKlines(symbol, interval string, limit int) ([]types.Candle, error) {
	const path = "/v5/market/kline"
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := c.getJSON(path, q, &r); err != nil {
		return nil, err
	}
	if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
		return nil, err
	}

	// Venue returns newest first.
	candles := make([]types.Candle, 0, len(r.Result.List))
	for i := len(r.Result.List) - 1; i >= 0; i-- {
		row := r.Result.List[i]
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, types.Candle{
			Time:   time.UnixMilli(ms),
			Open:   parseFloat(row[1]),
			High:   parseFloat(row[2]),
			Low:    parseFloat(row[3]),
			Close:  parseFloat(row[4]),
			Volume: parseFloat(row[5]),
		})
	}
	return candles, nil
}

// GetTicker fetches the last traded price for the symbol.
func (c *RESTClient) GetTicker(symbol string) (types.Ticker, error) {
	const path = "/v5/market/tickers"
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := c.getJSON(path, q, &r); err != nil {
		return types.Ticker{}, err
	}
	if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
		return types.Ticker{}, err
	}
	if len(r.Result.List) == 0 {
		return types.Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	return types.Ticker{
		Symbol:    symbol,
		LastPrice: parseFloat(r.Result.List[0].LastPrice),
		Time:      time.Now(),
	}, nil
}

// GetInstrumentInfo fetches lot-size and tick-size constraints for the symbol.
func (c *RESTClient) GetInstrumentInfo(symbol string) (types.InstrumentInfo, error) {
	const path = "/v5/market/instruments-info"
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				LotSizeFilter struct {
					MinNotionalValue string `json:"minNotionalValue"`
					MinOrderQty      string `json:"minOrderQty"`
					QtyStep          string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := c.getJSON(path, q, &r); err != nil {
		return types.InstrumentInfo{}, err
	}
	if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
		return types.InstrumentInfo{}, err
	}
	if len(r.Result.List) == 0 {
		return types.InstrumentInfo{}, fmt.Errorf("no instrument info for %s", symbol)
	}

	it := r.Result.List[0]
	info := types.InstrumentInfo{
		MinNotional: parseFloat(it.LotSizeFilter.MinNotionalValue),
		MinQty:      parseFloat(it.LotSizeFilter.MinOrderQty),
		QtyStep:     parseFloat(it.LotSizeFilter.QtyStep),
		TickSize:    parseFloat(it.PriceFilter.TickSize),
	}
	if info.TickSize <= 0 {
		info.TickSize = 0.1
	}
	return info, nil
}

// GetBalance fetches the available balance for a coin on the unified account.
func (c *RESTClient) GetBalance(coin string) (float64, error) {
	const path = "/v5/account/wallet-balance"
	q := url.Values{}
	q.Set("accountType", c.Config.AccountType)
	q.Set("coin", coin)

	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				TotalAvailableBalance string `json:"totalAvailableBalance"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := c.getJSON(path, q, &r); err != nil {
		return 0, err
	}
	if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
		return 0, err
	}
	if len(r.Result.List) == 0 {
		return 0, fmt.Errorf("no wallet balance for %s", coin)
	}
	return parseFloat(r.Result.List[0].TotalAvailableBalance), nil
}

// SetLeverage sets symbol leverage. "Leverage not modified" acks count as success.
func (c *RESTClient) SetLeverage(symbol string, leverage int) error {
	const path = "/v5/position/set-leverage"
	lev := strconv.Itoa(leverage)
	body := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	return c.withRetry(path, func() error {
		var r struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
		}
		if err := c.postJSON(path, body, &r); err != nil {
			return err
		}
		return c.checkRet(r.RetCode, r.RetMsg, path)
	})
}

// CreateOrder submits an order, optionally carrying TP/SL with the entry.
func (c *RESTClient) CreateOrder(p types.CreateOrderParams) (types.OrderAck, error) {
	const path = "/v5/order/create"

	instr, err := c.GetInstrumentInfo(p.Symbol)
	if err != nil {
		return types.OrderAck{}, err
	}

	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      p.Symbol,
		"side":        p.Side,
		"orderType":   p.OrderType,
		"qty":         utils.QtyString(p.Qty, instr.QtyStep),
		"positionIdx": p.PositionIdx,
	}
	if p.TimeInForce != "" {
		body["timeInForce"] = p.TimeInForce
	} else if p.OrderType == constants.Market {
		body["timeInForce"] = "IOC"
	} else {
		body["timeInForce"] = "GTC"
	}
	if p.Price > 0 && p.OrderType == constants.Limit {
		body["price"] = utils.PriceString(p.Price, instr.TickSize)
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	if p.TakeProfit > 0 {
		body["takeProfit"] = utils.PriceString(p.TakeProfit, instr.TickSize)
	}
	if p.StopLoss > 0 {
		body["stopLoss"] = utils.PriceString(p.StopLoss, instr.TickSize)
	}
	if p.TakeProfit > 0 || p.StopLoss > 0 {
		body["tpslMode"] = "Full"
	}
	if p.LinkID != "" {
		body["orderLinkId"] = p.LinkID
	}

	var ack types.OrderAck
	err = c.withRetry(path, func() error {
		var r struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
			Result  struct {
				OrderID     string `json:"orderId"`
				OrderLinkID string `json:"orderLinkId"`
			} `json:"result"`
		}
		if err := c.postJSON(path, body, &r); err != nil {
			return err
		}
		if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
			return err
		}
		ack = types.OrderAck{OrderID: r.Result.OrderID, LinkID: r.Result.OrderLinkID}
		return nil
	})
	if err != nil {
		return types.OrderAck{}, err
	}
	c.Logger.Info("Order placed: %s %s %s qty=%s id=%s", p.Symbol, p.Side, p.OrderType, utils.QtyString(p.Qty, instr.QtyStep), ack.OrderID)
	return ack, nil
}

// GetOrder polls one order by id.
func (c *RESTClient) GetOrder(orderID, symbol string) (types.OrderStatus, error) {
	const path = "/v5/order/realtime"
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)

	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderStatus string `json:"orderStatus"`
				AvgPrice    string `json:"avgPrice"`
				CumExecQty  string `json:"cumExecQty"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := c.getJSON(path, q, &r); err != nil {
		return types.OrderStatus{}, err
	}
	if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
		return types.OrderStatus{}, err
	}
	if len(r.Result.List) == 0 {
		return types.OrderStatus{}, fmt.Errorf("order %s not found for %s", orderID, symbol)
	}
	o := r.Result.List[0]
	return types.OrderStatus{
		OrderID:  o.OrderID,
		Status:   o.OrderStatus,
		AvgPrice: parseFloat(o.AvgPrice),
		CumQty:   parseFloat(o.CumExecQty),
	}, nil
}

// GetOpenOrders lists unresolved orders for the symbol.
func (c *RESTClient) GetOpenOrders(symbol string) ([]types.OpenOrder, error) {
	const path = "/v5/order/realtime"
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("openOnly", "0")

	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				OrderID string `json:"orderId"`
				Symbol  string `json:"symbol"`
				Side    string `json:"side"`
				Qty     string `json:"qty"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := c.getJSON(path, q, &r); err != nil {
		return nil, err
	}
	if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
		return nil, err
	}

	orders := make([]types.OpenOrder, 0, len(r.Result.List))
	for _, o := range r.Result.List {
		orders = append(orders, types.OpenOrder{
			OrderID: o.OrderID,
			Symbol:  o.Symbol,
			Side:    o.Side,
			Qty:     parseFloat(o.Qty),
		})
	}
	return orders, nil
}

// CancelOrder cancels one order by id.
func (c *RESTClient) CancelOrder(orderID, symbol string) error {
	const path = "/v5/order/cancel"
	body := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}

	return c.withRetry(path, func() error {
		var r struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
		}
		if err := c.postJSON(path, body, &r); err != nil {
			return err
		}
		return c.checkRet(r.RetCode, r.RetMsg, path)
	})
}

// GetPositions fetches the position slots for a symbol.
func (c *RESTClient) GetPositions(symbol string) ([]types.PositionInfo, error) {
	const path = "/v5/position/list"
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var r struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol       string `json:"symbol"`
				Side         string `json:"side"`
				Size         string `json:"size"`
				AvgPrice     string `json:"avgPrice"`
				StopLoss     string `json:"stopLoss"`
				TakeProfit   string `json:"takeProfit"`
				TrailingStop string `json:"trailingStop"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := c.getJSON(path, q, &r); err != nil {
		return nil, err
	}
	if err := c.checkRet(r.RetCode, r.RetMsg, path); err != nil {
		return nil, err
	}

	positions := make([]types.PositionInfo, 0, len(r.Result.List))
	for _, row := range r.Result.List {
		positions = append(positions, types.PositionInfo{
			Symbol:       row.Symbol,
			Side:         utils.NormalizeSide(row.Side),
			Size:         parseFloat(row.Size),
			EntryPrice:   parseFloat(row.AvgPrice),
			StopLoss:     parseFloat(row.StopLoss),
			TakeProfit:   parseFloat(row.TakeProfit),
			TrailingStop: strings.TrimSpace(row.TrailingStop),
		})
	}
	return positions, nil
}
