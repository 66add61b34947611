package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"perp-guard/config"
	"perp-guard/logging"
)

func testClient(t *testing.T, handler http.Handler) (*RESTClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.RESTHost = srv.URL
	cfg.APIKey = "test-key"
	cfg.APISecret = "test-secret"
	cfg.MaxRetries = 3
	cfg.RetryBaseDelayMs = 1

	client, err := NewRESTClient(cfg, logging.Nop{})
	if err != nil {
		t.Fatalf("NewRESTClient: %v", err)
	}
	return client, srv
}

func writeRet(w http.ResponseWriter, retCode int, retMsg string) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"retCode": retCode,
		"retMsg":  retMsg,
		"result":  map[string]interface{}{},
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want Class
	}{
		{0, ClassOK},
		{110043, ClassNotModified},
		{34040, ClassNotModified},
		{10006, ClassRetryable},
		{10016, ClassRetryable},
		{170007, ClassRetryable},
		{148019, ClassRetryable},
		{170146, ClassRetryable},
		{170147, ClassRetryable},
		{10001, ClassInvalidParams},
		{10002, ClassInvalidParams},
		{10003, ClassAuth},
		{10010, ClassAuth},
		{110012, ClassInsufficientMargin},
		{110044, ClassInsufficientMargin},
		{110052, ClassInsufficientMargin},
		{99999, ClassUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.code); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestNotModifiedIsSuccess(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRet(w, 110043, "set leverage not modified")
	}))

	if err := client.SetTrailingStop("BTCUSDT", 50000, 1.0, 1, "LastPrice"); err != nil {
		t.Errorf("not-modified ack surfaced as error: %v", err)
	}
}

func TestRetryableThenSuccess(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeRet(w, 10006, "rate limit")
			return
		}
		writeRet(w, 0, "OK")
	}))

	if err := client.SetStopLoss("BTCUSDT", 49000, 1); err != nil {
		t.Errorf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("venue called %d times, want 3", got)
	}
}

func TestRetryableExhausted(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeRet(w, 10006, "rate limit")
	}))

	err := client.SetStopLoss("BTCUSDT", 49000, 1)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsRetryable(err) {
		t.Errorf("surfaced error lost its retryable class: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("venue called %d times, want MaxRetries=3", got)
	}
}

func TestTerminalErrorNotRetried(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeRet(w, 110012, "insufficient available balance")
	}))

	err := client.SetStopLoss("BTCUSDT", 49000, 1)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if ErrorClass(err) != ClassInsufficientMargin {
		t.Errorf("class = %v, want insufficient margin", ErrorClass(err))
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("terminal error retried: %d calls", got)
	}
}

func TestHTTP429MapsToRetryable(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeRet(w, 0, "OK")
	}))

	if err := client.SetStopLoss("BTCUSDT", 49000, 1); err != nil {
		t.Errorf("expected recovery after a 429, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("venue called %d times, want 2", got)
	}
}

func TestSignedHeadersPresent(t *testing.T) {
	var gotKey, gotSign, gotTS string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-BAPI-API-KEY")
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTS = r.Header.Get("X-BAPI-TIMESTAMP")
		writeRet(w, 0, "OK")
	}))

	_ = client.SetLeverage("BTCUSDT", 3)
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotSign == "" || gotTS == "" {
		t.Error("signature or timestamp header missing")
	}
}

func TestTradingStopPayload(t *testing.T) {
	var body map[string]interface{}
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		writeRet(w, 0, "OK")
	}))

	if err := client.SetTrailingStop("BTCUSDT", 50123.5, 1.25, 2, ""); err != nil {
		t.Fatalf("SetTrailingStop: %v", err)
	}

	// Numeric fields go over the wire as strings.
	if got, ok := body["trailingStop"].(string); !ok || got != "1.25" {
		t.Errorf("trailingStop = %v, want string \"1.25\"", body["trailingStop"])
	}
	if got, ok := body["activePrice"].(string); !ok || got != "50123.5" {
		t.Errorf("activePrice = %v, want string \"50123.5\"", body["activePrice"])
	}
	if got := body["positionIdx"].(float64); got != 2 {
		t.Errorf("positionIdx = %v, want 2", got)
	}
	if body["tpslMode"] != "Full" {
		t.Errorf("tpslMode = %v, want Full", body["tpslMode"])
	}
	if body["slTriggerBy"] != "LastPrice" {
		t.Errorf("slTriggerBy = %v, want LastPrice default", body["slTriggerBy"])
	}
}

func TestGetKlinesReversesNewestFirst(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Venue order: newest first.
		fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			["3000","103","104","102","103.5","10"],
			["2000","102","103","101","102.5","10"],
			["1000","101","102","100","101.5","10"]
		]}}`)
	}))

	candles, err := client.GetKlines("BTCUSDT", "5", 3)
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(candles))
	}
	if !candles[0].Time.Before(candles[2].Time) {
		t.Error("candles not ascending by time")
	}
	if candles[2].Close != 103.5 {
		t.Errorf("last close = %.2f, want 103.5 (newest)", candles[2].Close)
	}
}

func TestGetPositionsNormalizesSides(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","side":"Buy","size":"0.5","avgPrice":"50000","stopLoss":"49000","takeProfit":"52000","trailingStop":"100"},
			{"symbol":"BTCUSDT","side":"Sell","size":"0","avgPrice":"0","stopLoss":"","takeProfit":"","trailingStop":""}
		]}}`)
	}))

	positions, err := client.GetPositions("BTCUSDT")
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d rows, want 2", len(positions))
	}
	if positions[0].Side != "LONG" {
		t.Errorf("side = %q, want LONG", positions[0].Side)
	}
	if !positions[0].HasSize() || positions[1].HasSize() {
		t.Error("HasSize misread the size column")
	}
	if positions[0].TrailingStop != "100" {
		t.Errorf("trailingStop = %q, want raw \"100\"", positions[0].TrailingStop)
	}
}

func TestGetProtectionState(t *testing.T) {
	trailing := "0"
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","side":"Buy","size":"0.5","avgPrice":"50000","stopLoss":"49100","takeProfit":"","trailingStop":"%s"}
		]}}`, trailing)
	}))

	state, err := client.GetProtectionState("BTCUSDT")
	if err != nil {
		t.Fatalf("GetProtectionState: %v", err)
	}
	if state.HasTrailing {
		t.Error("trailingStop \"0\" misread as attached")
	}
	if state.StopLoss != 49100 {
		t.Errorf("stopLoss = %.0f, want 49100", state.StopLoss)
	}

	trailing = "150"
	state, err = client.GetProtectionState("BTCUSDT")
	if err != nil {
		t.Fatalf("GetProtectionState: %v", err)
	}
	if !state.HasTrailing {
		t.Error("trailingStop \"150\" not detected")
	}
}

func TestVenueErrorUnwrap(t *testing.T) {
	err := newVenueError(10006, "rate limit", "/v5/order/create")
	var ve *VenueError
	if !errors.As(err, &ve) {
		t.Fatal("errors.As failed on VenueError")
	}
	if ve.Code != 10006 || ve.Class != ClassRetryable {
		t.Errorf("code=%d class=%v, want 10006 retryable", ve.Code, ve.Class)
	}
}
