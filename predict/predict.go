// Package predict consumes the trend-prediction capability. Model training
// and inference live in an external service; this package only asks it for a
// direction and degrades to a neutral or heuristic answer when it cannot.
package predict

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"perp-guard/config"
	"perp-guard/indicators"
	"perp-guard/interfaces"
	"perp-guard/logging"
	"perp-guard/types"
)

// holdSignal is the neutral answer used when no model is available.
func holdSignal() types.Signal {
	return types.Signal{
		Direction:  "hold",
		Confidence: 0,
		Probabilities: map[string]float64{
			"LONG":  0,
			"SHORT": 0,
		},
	}
}

// ServicePredictor queries an external model service over HTTP and falls back
// to an EMA heuristic when the service errs mid-prediction.
type ServicePredictor struct {
	Config *config.Config
	Logger logging.LoggerInterface
	Client interfaces.ExchangeClient
	HTTP   *http.Client
}

var _ interfaces.Predictor = (*ServicePredictor)(nil)

// NewServicePredictor creates a predictor against cfg.PredictURL. An empty
// URL is valid: every prediction is then hold with zero confidence.
func NewServicePredictor(cfg *config.Config, logger logging.LoggerInterface, client interfaces.ExchangeClient) *ServicePredictor {
	return &ServicePredictor{
		Config: cfg,
		Logger: logger,
		Client: client,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
	}
}

// PredictTrend returns the model's direction and confidence for the symbol.
// No configured service means no model: hold with zero confidence, no error.
func (p *ServicePredictor) PredictTrend(symbol, timeframe string) (types.Signal, error) {
	if p.Config.PredictURL == "" {
		return holdSignal(), nil
	}

	sig, err := p.query(symbol, timeframe)
	if err == nil {
		return sig, nil
	}
	p.Logger.Warning("Model service failed for %s, using EMA fallback: %v", symbol, err)
	return p.fallback(symbol, timeframe)
}

func (p *ServicePredictor) query(symbol, timeframe string) (types.Signal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)

	resp, err := p.HTTP.Get(p.Config.PredictURL + "/predict?" + q.Encode())
	if err != nil {
		return types.Signal{}, fmt.Errorf("model service request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Signal{}, fmt.Errorf("model service read failed: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		// No trained model for this symbol.
		return holdSignal(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return types.Signal{}, fmt.Errorf("model service status %d: %s", resp.StatusCode, string(body))
	}

	var r struct {
		Signal     string             `json:"signal"`
		Confidence float64            `json:"confidence"`
		Proba      map[string]float64 `json:"proba"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return types.Signal{}, fmt.Errorf("model service decode failed: %w", err)
	}

	switch r.Signal {
	case "long", "short", "hold":
	default:
		return types.Signal{}, fmt.Errorf("model service returned unknown signal %q", r.Signal)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return types.Signal{}, fmt.Errorf("model service confidence %.4f out of range", r.Confidence)
	}
	return types.Signal{
		Direction:     r.Signal,
		Confidence:    r.Confidence,
		Probabilities: r.Proba,
	}, nil
}

// fallback is the close-vs-EMA50 heuristic with fixed 0.6 confidence.
func (p *ServicePredictor) fallback(symbol, timeframe string) (types.Signal, error) {
	candles, err := p.Client.GetKlines(symbol, timeframe, 200)
	if err != nil {
		return holdSignal(), fmt.Errorf("fallback klines failed: %w", err)
	}
	snap, ok := indicators.Snapshot(candles)
	if !ok {
		return holdSignal(), nil
	}

	direction := "short"
	if snap.Close > snap.EMA50 {
		direction = "long"
	}
	probaLong := 0.4
	if direction == "long" {
		probaLong = 0.6
	}
	return types.Signal{
		Direction:  direction,
		Confidence: 0.6,
		Probabilities: map[string]float64{
			"LONG":  probaLong,
			"SHORT": 1 - probaLong,
		},
	}, nil
}
