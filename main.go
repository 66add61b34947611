package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"perp-guard/api"
	"perp-guard/config"
	"perp-guard/daemon"
	"perp-guard/guard"
	"perp-guard/logging"
	"perp-guard/position"
	"perp-guard/predict"
	"perp-guard/status"
	"perp-guard/tradelog"
	"perp-guard/ws"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	once := flag.Bool("once", false, "run a single cycle and exit")
	interval := flag.Int("interval", 0, "poll interval in seconds (overrides config)")
	pair := flag.String("pair", "", "comma-separated pairs (overrides config)")
	threshold := flag.Float64("threshold", 0, "signal confidence threshold (overrides config)")
	noLock := flag.Bool("no-lock", false, "skip the single-instance lock")
	live := flag.Bool("live", false, "disable dry-run and submit real orders")
	autoCancel := flag.Bool("auto-cancel", false, "cancel stale open orders before entry")
	noPyramid := flag.Bool("no-pyramid", false, "refuse entries while a position is open")
	debug := flag.Bool("debug", false, "enable debug logs")
	daemonStart := flag.Bool("start-daemon", false, "start as a background daemon")
	daemonStop := flag.Bool("stop-daemon", false, "stop the daemon process")
	daemonRestart := flag.Bool("restart-daemon", false, "restart the daemon process")
	flag.Parse()

	if *daemonStart || *daemonStop || *daemonRestart {
		handleDaemonCommand(*daemonStart, *daemonStop, *daemonRestart)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(cfg, *interval, *pair, *threshold, *live, *autoCancel, *noPyramid, *debug)

	logger, err := logging.NewLogger(cfg.LogFile, cfg.LogMaxSize, cfg.LogMaxBackups, cfg.LogMaxAge, cfg.LogCompress, logging.LogLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if !*noLock {
		lock, err := guard.AcquireLock()
		if err != nil {
			logger.Fatal("Instance lock: %v", err)
		}
		defer lock.Release()
	}

	logger.Info("Starting: pairs=%v dry_run=%t", cfg.Pairs, cfg.DryRun)

	client, err := api.NewRESTClient(cfg, logger)
	if err != nil {
		logger.Fatal("API client: %v", err)
	}
	if !cfg.DryRun {
		if _, err := client.GetBalance("USDT"); err != nil {
			logger.Fatal("API authentication failed: %v", err)
		}
		logger.Info("API connection established successfully")
	}

	recorder, err := tradelog.NewCSVLog(cfg.TradeLogPath)
	if err != nil {
		logger.Fatal("Trade log: %v", err)
	}

	mgr := position.NewManager(cfg, logger, client, recorder)

	if cfg.UseTickerWS {
		cache := ws.NewTickerCache(cfg, logger)
		cache.Start()
		defer cache.Stop()
		mgr.Prices = cache
	}

	predictor := predict.NewServicePredictor(cfg, logger, client)
	g := guard.NewGuard(cfg, logger, client, mgr, predictor)

	server := status.StartServer(cfg, mgr, logger)
	if server != nil {
		defer server.Close()
	}

	if *once {
		g.RunOnce()
		return
	}
	g.Run()
}

// applyFlags overlays command line flags on the loaded configuration. Only
// flags the user actually set override the file and environment.
func applyFlags(cfg *config.Config, interval int, pair string, threshold float64, live, autoCancel, noPyramid, debug bool) {
	if interval > 0 {
		cfg.PollIntervalSec = interval
	}
	if pair != "" {
		pairs := []string{}
		for _, p := range strings.Split(pair, ",") {
			if p = strings.TrimSpace(p); p != "" {
				pairs = append(pairs, strings.ToUpper(p))
			}
		}
		if len(pairs) > 0 {
			cfg.Pairs = pairs
		}
	}
	if threshold > 0 {
		cfg.ConfThreshold = threshold
	}
	if live {
		cfg.DryRun = false
	}
	if autoCancel {
		cfg.AutoCancel = true
	}
	if noPyramid {
		cfg.NoPyramid = true
	}
	if debug {
		cfg.LogLevel = int(logging.DEBUG)
	}
}

func handleDaemonCommand(start, stop, restart bool) {
	strip := func(name string) []string {
		args := []string{}
		for _, arg := range os.Args[1:] {
			if arg != name {
				args = append(args, arg)
			}
		}
		return args
	}

	switch {
	case start:
		if err := daemon.StartDaemon(strip("-start-daemon")); err != nil {
			log.Fatalf("Failed to start daemon: %v", err)
		}
	case stop:
		if err := daemon.StopDaemon(); err != nil {
			log.Fatalf("Failed to stop daemon: %v", err)
		}
	case restart:
		if err := daemon.RestartDaemon(strip("-restart-daemon")); err != nil {
			log.Fatalf("Failed to restart daemon: %v", err)
		}
	}
}
