package tradelog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"perp-guard/types"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return rows
}

func TestNewCSVLogWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	if _, err := NewCSVLog(path); err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}

	rows := readAll(t, path)
	if len(rows) != 1 {
		t.Fatalf("fresh log has %d rows, want header only", len(rows))
	}
	if rows[0][0] != "ts" || rows[0][1] != "event" {
		t.Errorf("header = %v", rows[0])
	}
}

func TestAppendRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	log, err := NewCSVLog(path)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}

	err = log.Append(types.TradeEvent{
		Time:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Event:    "order_filled",
		Symbol:   "BTCUSDT",
		Side:     "LONG",
		Qty:      0.5,
		Price:    50000,
		StopLoss: 49100,
		OrderID:  "ord-1",
		Mode:     "LIVE",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(types.TradeEvent{Event: "breakeven_set", Symbol: "BTCUSDT", Side: "LONG", StopLoss: 50010}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows := readAll(t, path)
	if len(rows) != 3 {
		t.Fatalf("log has %d rows, want header + 2", len(rows))
	}
	if rows[1][1] != "order_filled" || rows[1][4] != "0.5" || rows[1][5] != "50000" {
		t.Errorf("first event row = %v", rows[1])
	}
	if rows[1][0] != "2024-03-01T12:00:00Z" {
		t.Errorf("timestamp = %q, want RFC3339 UTC", rows[1][0])
	}
	// Zero-valued numerics stay blank, mode defaults to LIVE.
	if rows[2][4] != "" || rows[2][10] != "LIVE" {
		t.Errorf("second event row = %v", rows[2])
	}
}

func TestReopenDoesNotRewriteHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	log, err := NewCSVLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(types.TradeEvent{Event: "order_placed", Symbol: "BTCUSDT"}); err != nil {
		t.Fatal(err)
	}

	// A restart reopens the same file.
	if _, err := NewCSVLog(path); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rows := readAll(t, path)
	if len(rows) != 2 {
		t.Errorf("reopen rewrote the file: %d rows, want 2", len(rows))
	}
}

func TestNewCSVLogEmptyPath(t *testing.T) {
	if _, err := NewCSVLog(""); err == nil {
		t.Error("expected error for empty path")
	}
}
