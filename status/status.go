// Package status serves the local diagnostics endpoints: /status with a JSON
// snapshot of the guard and /metrics with the Prometheus registry.
package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perp-guard/config"
	"perp-guard/logging"
	"perp-guard/position"
)

type statusResponse struct {
	Time      time.Time                  `json:"time"`
	Pairs     []string                   `json:"pairs"`
	DryRun    bool                       `json:"dryRun"`
	Positions []position.TrackedPosition `json:"positions"`
}

// StartServer starts the local HTTP status server. Returns nil when the
// address is empty or disabled.
func StartServer(cfg *config.Config, mgr *position.Manager, logger logging.LoggerInterface) *http.Server {
	addr := strings.TrimSpace(cfg.StatusAddr)
	if addr == "" || strings.EqualFold(addr, "off") || strings.EqualFold(addr, "disabled") {
		logger.Info("Status server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Time:      time.Now(),
			Pairs:     cfg.Pairs,
			DryRun:    cfg.DryRun,
			Positions: mgr.Tracked(),
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
			return
		}
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Status server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server error: %v", err)
		}
	}()

	return server
}
