package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config holds the full application configuration. Defaults are set in code,
// an optional YAML file overrides them, and environment variables override both.
// Credentials come from the environment only.
type Config struct {
	// Venue connection
	APIKey      string `yaml:"-"`
	APISecret   string `yaml:"-"`
	RESTHost    string `yaml:"rest_host"`
	WSPublicURL string `yaml:"ws_public_url"`
	RecvWindow  string `yaml:"recv_window"`
	AccountType string `yaml:"account_type"`
	ProxyURL    string `yaml:"-"`

	// Symbols and cadence
	Pairs           []string `yaml:"pairs"`
	Timeframe       string   `yaml:"timeframe"`
	PollIntervalSec int      `yaml:"poll_interval_sec"`

	// ATR source
	ATRTimeframe string `yaml:"atr_timeframe"`
	ATRPeriod    int    `yaml:"atr_period"`

	// Entry sizing and protection
	Leverage       int     `yaml:"leverage"`
	RiskPct        float64 `yaml:"risk_pct"`
	SLATRMult      float64 `yaml:"sl_atr_mult"`
	TPATRMult      float64 `yaml:"tp_atr_mult"`
	SLFallbackPct  float64 `yaml:"sl_fallback_pct"`
	TPFallbackPct  float64 `yaml:"tp_fallback_pct"`
	MinBalanceUSDT float64 `yaml:"min_balance_usdt"`

	// Trailing stop
	UseTrailing       bool    `yaml:"use_trailing"`
	ActivationMode    string  `yaml:"activation_mode"` // atr | pct
	ActivationATRK    float64 `yaml:"activation_atr_k"`
	ActivationUpPct   float64 `yaml:"activation_up_pct"`
	ActivationDownPct float64 `yaml:"activation_down_pct"`
	MinUpPct          float64 `yaml:"min_up_pct"`
	MinDownPct        float64 `yaml:"min_down_pct"`
	CallbackRatePct   float64 `yaml:"callback_rate_pct"`
	AutoCallback      bool    `yaml:"auto_callback"`
	AutoCallbackATRK  float64 `yaml:"auto_callback_atr_k"`

	// Break-even
	EnableBreakeven bool    `yaml:"enable_breakeven"`
	BEMode          string  `yaml:"be_mode"` // atr | pct
	BEATRK          float64 `yaml:"be_atr_k"`
	BETriggerPct    float64 `yaml:"be_trigger_pct"`
	BEOffsetPct     float64 `yaml:"be_offset_pct"`
	BEEpsilonPct    float64 `yaml:"be_epsilon_pct"`

	// Partial take-profit
	EnablePartialTP   bool    `yaml:"enable_partial_tp"`
	PartialTPFraction float64 `yaml:"partial_tp_fraction"`
	PartialTPRMult    float64 `yaml:"partial_tp_r_mult"`

	// Regime filter
	MinBBWidth     float64 `yaml:"min_bb_width"`
	MinEMASlope    float64 `yaml:"min_ema_slope"`
	RSINeutralLow  float64 `yaml:"rsi_neutral_low"`
	RSINeutralHigh float64 `yaml:"rsi_neutral_high"`

	// Prediction
	PredictURL    string  `yaml:"predict_url"`
	ConfThreshold float64 `yaml:"conf_threshold"`

	// Run modes
	DryRun     bool `yaml:"dry_run"`
	AutoCancel bool `yaml:"auto_cancel"`
	NoPyramid  bool `yaml:"no_pyramid"`

	// Venue call policy
	MaxRetries         int `yaml:"max_retries"`
	RetryBaseDelayMs   int `yaml:"retry_base_delay_ms"`
	WaitFillTimeoutSec int `yaml:"wait_fill_timeout_sec"`

	// Optional WS ticker feed
	UseTickerWS     bool `yaml:"use_ticker_ws"`
	TickerMaxAgeSec int  `yaml:"ticker_max_age_sec"`

	// Trade log
	TradeLogPath string `yaml:"trade_log_path"`

	// Logging
	LogFile       string `yaml:"log_file"`
	LogMaxSize    int    `yaml:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAge     int    `yaml:"log_max_age"`
	LogCompress   bool   `yaml:"log_compress"`
	LogLevel      int    `yaml:"log_level"` // 0=DEBUG 1=INFO 2=WARNING 3=ERROR

	// Status server
	StatusAddr string `yaml:"status_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		RESTHost:    "https://api.bybit.com",
		WSPublicURL: "wss://stream.bybit.com/v5/public/linear",
		RecvWindow:  "20000",
		AccountType: "UNIFIED",

		Pairs:           []string{"BTCUSDT"},
		Timeframe:       "5",
		PollIntervalSec: 60,

		ATRTimeframe: "5",
		ATRPeriod:    14,

		Leverage:       3,
		RiskPct:        0.007,
		SLATRMult:      1.8,
		TPATRMult:      2.2,
		SLFallbackPct:  0.006,
		TPFallbackPct:  0.012,
		MinBalanceUSDT: 5,

		UseTrailing:       true,
		ActivationMode:    "atr",
		ActivationATRK:    1.0,
		ActivationUpPct:   0.003,
		ActivationDownPct: 0.003,
		MinUpPct:          0.001,
		MinDownPct:        0.001,
		CallbackRatePct:   1.0,
		AutoCallback:      false,
		AutoCallbackATRK:  0.75,

		EnableBreakeven: true,
		BEMode:          "atr",
		BEATRK:          0.5,
		BETriggerPct:    0.004,
		BEOffsetPct:     0.0005,
		BEEpsilonPct:    0.0002,

		EnablePartialTP:   true,
		PartialTPFraction: 0.5,
		PartialTPRMult:    1.0,

		MinBBWidth:     0.004,
		MinEMASlope:    0.0,
		RSINeutralLow:  45,
		RSINeutralHigh: 55,

		ConfThreshold: 0.65,

		DryRun:     true,
		AutoCancel: false,
		NoPyramid:  false,

		MaxRetries:         3,
		RetryBaseDelayMs:   400,
		WaitFillTimeoutSec: 25,

		UseTickerWS:     false,
		TickerMaxAgeSec: 10,

		TradeLogPath: "logs/trades.csv",

		LogFile:       "logs/perp-guard.log",
		LogMaxSize:    10,
		LogMaxBackups: 5,
		LogMaxAge:     30,
		LogCompress:   true,
		LogLevel:      1,

		StatusAddr: "127.0.0.1:6061",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and the
// environment. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("no trading pairs configured (set PAIRS or pairs in the config file)")
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of the loaded config.
func (c *Config) applyEnv() {
	c.APIKey = getEnv("BYBIT_API_KEY", c.APIKey)
	c.APISecret = getEnv("BYBIT_SECRET_KEY", c.APISecret)
	c.ProxyURL = getEnv("PROXY_URL", c.ProxyURL)
	c.RESTHost = getEnv("BYBIT_REST_HOST", c.RESTHost)
	c.WSPublicURL = getEnv("BYBIT_WS_PUBLIC", c.WSPublicURL)
	c.RecvWindow = getEnv("RECV_WINDOW", c.RecvWindow)

	if v := getEnv("PAIRS", ""); v != "" {
		pairs := []string{}
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				pairs = append(pairs, p)
			}
		}
		if len(pairs) > 0 {
			c.Pairs = pairs
		}
	}

	c.Timeframe = getEnv("TIMEFRAME", c.Timeframe)
	c.PollIntervalSec = getEnvAsInt("POLL_INTERVAL_SEC", c.PollIntervalSec)

	c.ATRTimeframe = getEnv("ATR_TIMEFRAME", c.ATRTimeframe)
	c.ATRPeriod = getEnvAsInt("ATR_PERIOD", c.ATRPeriod)

	c.Leverage = getEnvAsInt("LEVERAGE", c.Leverage)
	c.RiskPct = getEnvAsFloat("RISK_PCT", c.RiskPct)
	c.SLATRMult = getEnvAsFloat("SL_ATR_MULT", c.SLATRMult)
	c.TPATRMult = getEnvAsFloat("TP_ATR_MULT", c.TPATRMult)
	c.MinBalanceUSDT = getEnvAsFloat("MIN_BALANCE_USDT", c.MinBalanceUSDT)

	c.UseTrailing = getEnvAsBool("USE_TRAILING_STOP", c.UseTrailing)
	c.ActivationMode = strings.ToLower(getEnv("TS_ACTIVATION_MODE", c.ActivationMode))
	c.ActivationATRK = getEnvAsFloat("TS_ACTIVATION_ATR_K", c.ActivationATRK)
	c.ActivationUpPct = getEnvAsFloat("TS_ACTIVATION_UP_PCT", c.ActivationUpPct)
	c.ActivationDownPct = getEnvAsFloat("TS_ACTIVATION_DOWN_PCT", c.ActivationDownPct)
	c.MinUpPct = getEnvAsFloat("TS_ACTIVATION_MIN_UP_PCT", c.MinUpPct)
	c.MinDownPct = getEnvAsFloat("TS_ACTIVATION_MIN_DOWN_PCT", c.MinDownPct)
	c.CallbackRatePct = getEnvAsFloat("TS_CALLBACK_RATE", c.CallbackRatePct)
	c.AutoCallback = getEnvAsBool("TS_CALLBACK_RATE_AUTO", c.AutoCallback)
	c.AutoCallbackATRK = getEnvAsFloat("TS_CALLBACK_RATE_ATR_K", c.AutoCallbackATRK)

	c.EnableBreakeven = getEnvAsBool("ENABLE_BREAKEVEN", c.EnableBreakeven)
	c.BEMode = strings.ToLower(getEnv("BE_MODE", c.BEMode))
	c.BEATRK = getEnvAsFloat("BE_ATR_K", c.BEATRK)
	c.BETriggerPct = getEnvAsFloat("BE_TRIGGER_PCT", c.BETriggerPct)
	c.BEOffsetPct = getEnvAsFloat("BE_OFFSET_PCT", c.BEOffsetPct)
	c.BEEpsilonPct = getEnvAsFloat("BE_EPSILON_PCT", c.BEEpsilonPct)

	c.EnablePartialTP = getEnvAsBool("ENABLE_PARTIAL_TP", c.EnablePartialTP)
	c.PartialTPFraction = getEnvAsFloat("PARTIAL_TP_FRACTION", c.PartialTPFraction)
	c.PartialTPRMult = getEnvAsFloat("PARTIAL_TP_R_MULT", c.PartialTPRMult)

	c.MinBBWidth = getEnvAsFloat("MIN_BB_WIDTH", c.MinBBWidth)
	c.MinEMASlope = getEnvAsFloat("MIN_EMA_SLOPE", c.MinEMASlope)
	c.RSINeutralLow = getEnvAsFloat("RSI_NEUTRAL_LOW", c.RSINeutralLow)
	c.RSINeutralHigh = getEnvAsFloat("RSI_NEUTRAL_HIGH", c.RSINeutralHigh)

	c.PredictURL = getEnv("PREDICT_URL", c.PredictURL)
	c.ConfThreshold = getEnvAsFloat("CONF_THRESHOLD", c.ConfThreshold)

	c.MaxRetries = getEnvAsInt("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelayMs = getEnvAsInt("RETRY_BASE_DELAY_MS", c.RetryBaseDelayMs)
	c.WaitFillTimeoutSec = getEnvAsInt("WAIT_FILL_TIMEOUT_SEC", c.WaitFillTimeoutSec)

	c.UseTickerWS = getEnvAsBool("USE_TICKER_WS", c.UseTickerWS)
	c.TickerMaxAgeSec = getEnvAsInt("TICKER_MAX_AGE_SEC", c.TickerMaxAgeSec)

	c.TradeLogPath = getEnv("TRADE_LOG_PATH", c.TradeLogPath)

	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogLevel = getEnvAsInt("LOG_LEVEL", c.LogLevel)

	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch value {
	case "true", "1", "yes", "on", "True", "TRUE":
		return true
	case "false", "0", "no", "off", "False", "FALSE":
		return false
	default:
		return defaultValue
	}
}
