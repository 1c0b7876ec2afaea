package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"news-trend-trader/internal/backtest"
	"news-trend-trader/internal/broker/paper"
	"news-trend-trader/internal/fuser"
	"news-trend-trader/internal/risk"
	"news-trend-trader/internal/ta"
	"news-trend-trader/internal/trace"
)

type Config struct {
	Mode        string   `yaml:"mode"`
	PollSeconds int      `yaml:"poll_seconds"`
	Exchange    string   `yaml:"exchange"`
	Universe    []string `yaml:"universe"`
	InitialCash float64  `yaml:"initial_cash"`

	Fuser struct {
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
		FastWindow          int     `yaml:"fast_window"`
		SlowWindow          int     `yaml:"slow_window"`
	} `yaml:"fuser"`

	Risk struct {
		MaxAllocation    float64            `yaml:"max_allocation"`
		PositionFraction float64            `yaml:"position_fraction"`
		ATRWindow        int                `yaml:"atr_window"`
		ATRSmoothing     string             `yaml:"atr_smoothing"`
		KStop            float64            `yaml:"k_stop"`
		KTarget          float64            `yaml:"k_target"`
		LotSize          float64            `yaml:"lot_size"`
		LotSizes         map[string]float64 `yaml:"lot_sizes"`
		TickSize         float64            `yaml:"tick_size"`
	} `yaml:"risk"`

	Backtest struct {
		SameBarPolicy  string `yaml:"same_bar_policy"`
		LiquidateAtEnd bool   `yaml:"liquidate_at_end"`
		BarsCSV        string `yaml:"bars_csv"`
		SignalsCSV     string `yaml:"signals_csv"`
		OutDir         string `yaml:"out_dir"`
	} `yaml:"backtest"`

	Signals struct {
		Path string `yaml:"path"` // JSONL file tailed in live mode
	} `yaml:"signals"`

	Zerodha struct {
		Product          string           `yaml:"product"`
		BarSeconds       int              `yaml:"bar_seconds"`
		InstrumentTokens map[string]int64 `yaml:"instrument_tokens"`
		HistoryBars      int              `yaml:"history_bars"`
	} `yaml:"zerodha"`

	Journal struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
		Postgres      bool   `yaml:"postgres"` // DSN from TRADER_PG_DSN
	} `yaml:"journal"`

	Telegram struct {
		ChatID int64 `yaml:"chat_id"` // token from TELEGRAM_BOT_TOKEN
	} `yaml:"telegram"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"` // LOG_TRACING_ENABLED wins when set
		ServiceName string  `yaml:"service_name"`
		SampleRatio float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{
		Mode:        "DRY_RUN",
		PollSeconds: 15,
		Exchange:    "NSE",
		InitialCash: 100000,
	}

	f := fuser.DefaultConfig()
	c.Fuser.ConfidenceThreshold = f.ConfidenceThreshold
	c.Fuser.FastWindow = f.FastWindow
	c.Fuser.SlowWindow = f.SlowWindow

	r := risk.DefaultConfig()
	c.Risk.MaxAllocation = r.MaxAllocation
	c.Risk.ATRWindow = r.ATRWindow
	c.Risk.ATRSmoothing = string(r.ATRSmoothing)
	c.Risk.KStop = r.KStop
	c.Risk.KTarget = r.KTarget
	c.Risk.LotSize = r.LotSize

	c.Backtest.SameBarPolicy = string(paper.StopFirst)
	c.Backtest.OutDir = "reports"
	c.Signals.Path = "signals.jsonl"

	c.Zerodha.Product = "MIS"
	c.Zerodha.BarSeconds = 60
	c.Zerodha.HistoryBars = 500

	c.Journal.RetentionDays = 30

	c.Tracing.ServiceName = "news-trend-trader"
	c.Tracing.SampleRatio = 1
	return c
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll_seconds must be positive, got %d", c.PollSeconds)
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be positive, got %.2f", c.InitialCash)
	}
	if t := c.Fuser.ConfidenceThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("fuser.confidence_threshold must be in (0, 1], got %.2f", t)
	}
	if c.Fuser.FastWindow <= 0 || c.Fuser.SlowWindow <= c.Fuser.FastWindow {
		return fmt.Errorf("fuser windows must satisfy 0 < fast < slow, got %d/%d", c.Fuser.FastWindow, c.Fuser.SlowWindow)
	}
	if a := c.Risk.MaxAllocation; a <= 0 || a > 1 {
		return fmt.Errorf("risk.max_allocation must be in (0, 1], got %.2f", a)
	}
	if f := c.Risk.PositionFraction; f < 0 || f > 1 {
		return fmt.Errorf("risk.position_fraction must be in [0, 1], got %.2f", f)
	}
	if c.Risk.ATRWindow <= 0 {
		return fmt.Errorf("risk.atr_window must be positive, got %d", c.Risk.ATRWindow)
	}
	if _, ok := ta.ParseSmoothing(c.Risk.ATRSmoothing); !ok {
		return fmt.Errorf("risk.atr_smoothing must be 'WILDER' or 'SIMPLE', got '%s'", c.Risk.ATRSmoothing)
	}
	if c.Risk.KStop <= 0 || c.Risk.KTarget <= 0 {
		return fmt.Errorf("risk.k_stop and risk.k_target must be positive, got %.2f/%.2f", c.Risk.KStop, c.Risk.KTarget)
	}
	if c.Risk.LotSize <= 0 || c.Risk.TickSize < 0 {
		return fmt.Errorf("risk.lot_size must be positive and risk.tick_size non-negative, got %.4f/%.4f", c.Risk.LotSize, c.Risk.TickSize)
	}
	for inst, lot := range c.Risk.LotSizes {
		if lot <= 0 {
			return fmt.Errorf("risk.lot_sizes[%s] must be positive, got %.4f", inst, lot)
		}
	}
	if _, ok := paper.ParseSameBarPolicy(c.Backtest.SameBarPolicy); !ok {
		return fmt.Errorf("backtest.same_bar_policy must be 'STOP_FIRST' or 'TARGET_FIRST', got '%s'", c.Backtest.SameBarPolicy)
	}
	if r := c.Tracing.SampleRatio; r <= 0 || r > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in (0, 1], got %.2f", r)
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return errors.New("tracing.service_name cannot be empty when tracing is enabled")
	}
	if c.Mode == "LIVE" && len(c.Universe) == 0 {
		return errors.New("universe cannot be empty in LIVE mode")
	}
	return nil
}

// LoadConfig reads YAML over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c *Config) FuserConfig() fuser.Config {
	return fuser.Config{
		ConfidenceThreshold: c.Fuser.ConfidenceThreshold,
		FastWindow:          c.Fuser.FastWindow,
		SlowWindow:          c.Fuser.SlowWindow,
	}
}

func (c *Config) RiskConfig() risk.Config {
	smoothing, _ := ta.ParseSmoothing(c.Risk.ATRSmoothing)
	return risk.Config{
		MaxAllocation:    c.Risk.MaxAllocation,
		PositionFraction: c.Risk.PositionFraction,
		ATRWindow:        c.Risk.ATRWindow,
		ATRSmoothing:     smoothing,
		KStop:            c.Risk.KStop,
		KTarget:          c.Risk.KTarget,
		LotSize:          c.Risk.LotSize,
		LotSizes:         c.Risk.LotSizes,
		TickSize:         c.Risk.TickSize,
	}
}

func (c *Config) BacktestConfig() backtest.Config {
	policy, _ := paper.ParseSameBarPolicy(c.Backtest.SameBarPolicy)
	return backtest.Config{
		InitialCash:    c.InitialCash,
		SameBarPolicy:  policy,
		LiquidateAtEnd: c.Backtest.LiquidateAtEnd,
	}
}

func (c *Config) TracingConfig(version string) trace.Config {
	return trace.Config{
		ServiceName: c.Tracing.ServiceName,
		Version:     version,
		Enabled:     c.Tracing.Enabled,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
