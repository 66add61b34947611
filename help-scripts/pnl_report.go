// Command pnl_report summarizes the trade event CSV written by the bot.
// It is an offline tool and never talks to the exchange.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type tradeRow struct {
	Time    time.Time
	Event   string
	Symbol  string
	Side    string
	Qty     float64
	Price   float64
	SL      float64
	TP      float64
	OrderID string
	LinkID  string
	Mode    string
	Extra   string
}

type symbolSummary struct {
	Symbol     string
	Placed     int
	Filled     int
	PartialTPs int
	Breakevens int
	Trailings  int
	Notional   float64
	PartialQty float64
	FirstEvent time.Time
	LastEvent  time.Time
}

func parseRow(rec []string) (tradeRow, error) {
	if len(rec) < 12 {
		return tradeRow{}, fmt.Errorf("short row: %d columns", len(rec))
	}
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return tradeRow{}, fmt.Errorf("bad timestamp %q: %w", rec[0], err)
	}
	return tradeRow{
		Time:    ts,
		Event:   rec[1],
		Symbol:  rec[2],
		Side:    rec[3],
		Qty:     parseFloat(rec[4]),
		Price:   parseFloat(rec[5]),
		SL:      parseFloat(rec[6]),
		TP:      parseFloat(rec[7]),
		OrderID: rec[8],
		LinkID:  rec[9],
		Mode:    rec[10],
		Extra:   rec[11],
	}, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func readTradeLog(path string) ([]tradeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows []tradeRow
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == "ts" {
				continue
			}
		}
		row, err := parseRow(rec)
		if err != nil {
			// Skip malformed rows rather than failing the whole report.
			fmt.Fprintf(os.Stderr, "skipping row: %v\n", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func filterRows(rows []tradeRow, symbol, mode string, since time.Time) []tradeRow {
	var out []tradeRow
	for _, r := range rows {
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		if mode != "" && !strings.EqualFold(r.Mode, mode) {
			continue
		}
		if !since.IsZero() && r.Time.Before(since) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func summarize(rows []tradeRow) []symbolSummary {
	bySymbol := map[string]*symbolSummary{}
	for _, r := range rows {
		s := bySymbol[r.Symbol]
		if s == nil {
			s = &symbolSummary{Symbol: r.Symbol, FirstEvent: r.Time, LastEvent: r.Time}
			bySymbol[r.Symbol] = s
		}
		if r.Time.Before(s.FirstEvent) {
			s.FirstEvent = r.Time
		}
		if r.Time.After(s.LastEvent) {
			s.LastEvent = r.Time
		}
		switch r.Event {
		case "order_placed":
			s.Placed++
		case "order_filled":
			s.Filled++
			s.Notional += r.Qty * r.Price
		case "partial_tp":
			s.PartialTPs++
			s.PartialQty += r.Qty
		case "breakeven_set":
			s.Breakevens++
		case "trailing_set":
			s.Trailings++
		}
	}

	out := make([]symbolSummary, 0, len(bySymbol))
	for _, s := range bySymbol {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func main() {
	logPath := flag.String("log", "trades.csv", "path to the trade event CSV")
	symbolFlag := flag.String("symbol", "", "limit to one symbol")
	modeFlag := flag.String("mode", "", "limit to LIVE or DRY rows")
	hours := flag.Int("hours", 0, "lookback window in hours (0 = all)")
	flag.Parse()

	rows, err := readTradeLog(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading trade log: %v\n", err)
		os.Exit(1)
	}

	var since time.Time
	if *hours > 0 {
		since = time.Now().Add(-time.Duration(*hours) * time.Hour)
	}
	rows = filterRows(rows, *symbolFlag, *modeFlag, since)

	if len(rows) == 0 {
		fmt.Println("No trade events in the selected window.")
		return
	}

	summaries := summarize(rows)

	fmt.Printf("%-12s %-7s %-7s %-9s %-10s %-9s %-14s %s\n",
		"Symbol", "Placed", "Filled", "PartialTP", "Breakeven", "Trailing", "Notional", "Window")
	for _, s := range summaries {
		window := fmt.Sprintf("%s .. %s",
			s.FirstEvent.UTC().Format("01-02 15:04"),
			s.LastEvent.UTC().Format("01-02 15:04"))
		fmt.Printf("%-12s %-7d %-7d %-9d %-10d %-9d %-14.2f %s\n",
			s.Symbol, s.Placed, s.Filled, s.PartialTPs, s.Breakevens, s.Trailings, s.Notional, window)
	}
}
