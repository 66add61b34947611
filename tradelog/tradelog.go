// Package tradelog appends order and protection events to a CSV file for
// audit. The file is write-only from the program's point of view.
package tradelog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"perp-guard/interfaces"
	"perp-guard/types"
)

var header = []string{
	"ts", "event", "symbol", "side", "qty", "price",
	"sl", "tp", "order_id", "link_id", "mode", "extra",
}

// CSVLog is an append-only CSV trade-event log.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

var _ interfaces.TradeRecorder = (*CSVLog)(nil)

// NewCSVLog opens (or creates with a header) the log file at path.
func NewCSVLog(path string) (*CSVLog, error) {
	if path == "" {
		return nil, fmt.Errorf("empty trade log path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trade log directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create trade log: %w", err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write trade log header: %w", err)
		}
		w.Flush()
		if err := f.Close(); err != nil {
			return nil, err
		}
	}
	return &CSVLog{path: path}, nil
}

// Append writes one event row.
func (l *CSVLog) Append(e types.TradeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trade log: %w", err)
	}
	defer f.Close()

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Mode == "" {
		e.Mode = "LIVE"
	}

	w := csv.NewWriter(f)
	rec := []string{
		e.Time.UTC().Format(time.RFC3339),
		e.Event,
		e.Symbol,
		e.Side,
		formatF(e.Qty),
		formatF(e.Price),
		formatF(e.StopLoss),
		formatF(e.TakeProfit),
		e.OrderID,
		e.LinkID,
		e.Mode,
		e.Extra,
	}
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("failed to append trade event: %w", err)
	}
	w.Flush()
	return w.Error()
}

func formatF(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
