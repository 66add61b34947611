// Command bot_status queries the guard's local /status endpoint and prints a
// human readable summary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type statusResponse struct {
	Time      time.Time         `json:"time"`
	Pairs     []string          `json:"pairs"`
	DryRun    bool              `json:"dryRun"`
	Positions []trackedPosition `json:"positions"`
}

type trackedPosition struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	TrailingAttached bool   `json:"trailingAttached"`
	BreakevenDone    bool   `json:"breakevenDone"`
	PartialTPDone    bool   `json:"partialTpDone"`
}

func main() {
	defaultAddr := os.Getenv("STATUS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6061"
	}

	addr := flag.String("addr", defaultAddr, "status server address or URL")
	jsonOut := flag.Bool("json", false, "print raw JSON")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP timeout")
	flag.Parse()

	url := strings.TrimSpace(*addr)
	if url == "" {
		fmt.Fprintln(os.Stderr, "status address is empty")
		os.Exit(1)
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + "/status"

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status request error: %s\n%s\n", resp.Status, string(body))
		os.Exit(1)
	}
	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse JSON: %v\n", err)
		os.Exit(1)
	}

	mode := "LIVE"
	if payload.DryRun {
		mode = "DRY"
	}
	fmt.Printf("Time: %s\n", formatTime(payload.Time))
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Pairs: %s\n", strings.Join(payload.Pairs, ", "))

	if len(payload.Positions) == 0 {
		fmt.Println("Positions: none")
		return
	}
	for _, p := range payload.Positions {
		fmt.Printf("Position: %s %s trailing=%t breakeven=%t partialTP=%t\n",
			p.Symbol, p.Side, p.TrailingAttached, p.BreakevenDone, p.PartialTPDone)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}
