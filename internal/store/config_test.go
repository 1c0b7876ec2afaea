package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-trend-trader/internal/broker/paper"
	"news-trend-trader/internal/ta"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, "mode: DRY_RUN\n"))
	require.NoError(t, err)

	assert.Equal(t, 0.85, c.Fuser.ConfidenceThreshold)
	assert.Equal(t, 20, c.Fuser.FastWindow)
	assert.Equal(t, 50, c.Fuser.SlowWindow)
	assert.Equal(t, 0.10, c.Risk.MaxAllocation)
	assert.Equal(t, 14, c.Risk.ATRWindow)
	assert.Equal(t, 1.5, c.Risk.KStop)
	assert.Equal(t, 3.0, c.Risk.KTarget)
	assert.Equal(t, 15, c.PollSeconds)

	rc := c.RiskConfig()
	assert.Equal(t, ta.SmoothingWilder, rc.ATRSmoothing)
	assert.Equal(t, paper.StopFirst, c.BacktestConfig().SameBarPolicy)
}

func TestLoadConfigOverrides(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, `
mode: LIVE
universe: [INFY, TCS]
fuser:
  confidence_threshold: 0.9
  fast_window: 5
  slow_window: 10
risk:
  max_allocation: 0.05
  atr_smoothing: simple
  lot_sizes:
    NIFTY: 50
backtest:
  same_bar_policy: TARGET_FIRST
  liquidate_at_end: true
zerodha:
  instrument_tokens:
    INFY: 408065
`))
	require.NoError(t, err)

	fc := c.FuserConfig()
	assert.Equal(t, 0.9, fc.ConfidenceThreshold)
	assert.Equal(t, 5, fc.FastWindow)

	rc := c.RiskConfig()
	assert.Equal(t, 0.05, rc.MaxAllocation)
	assert.Equal(t, ta.SmoothingSimple, rc.ATRSmoothing)
	assert.Equal(t, 50.0, rc.LotSizes["NIFTY"])
	assert.Equal(t, 3.0, rc.KTarget, "unset keys keep defaults")

	bc := c.BacktestConfig()
	assert.Equal(t, paper.TargetFirst, bc.SameBarPolicy)
	assert.True(t, bc.LiquidateAtEnd)
	assert.Equal(t, int64(408065), c.Zerodha.InstrumentTokens["INFY"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "PAPER" }},
		{"threshold", func(c *Config) { c.Fuser.ConfidenceThreshold = 1.5 }},
		{"windows", func(c *Config) { c.Fuser.FastWindow = 50 }},
		{"allocation", func(c *Config) { c.Risk.MaxAllocation = 0 }},
		{"smoothing", func(c *Config) { c.Risk.ATRSmoothing = "EMA" }},
		{"policy", func(c *Config) { c.Backtest.SameBarPolicy = "RANDOM" }},
		{"live universe", func(c *Config) { c.Mode = "LIVE" }},
		{"lot", func(c *Config) { c.Risk.LotSizes = map[string]float64{"X": 0} }},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 1.5 }},
		{"service name", func(c *Config) { c.Tracing.Enabled, c.Tracing.ServiceName = true, "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestTracingConfig(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, "mode: DRY_RUN\n"))
	require.NoError(t, err)
	tc := c.TracingConfig("dev")
	assert.False(t, tc.Enabled)
	assert.Equal(t, "news-trend-trader", tc.ServiceName)
	assert.Equal(t, 1.0, tc.SampleRatio)

	c, err = LoadConfig(writeConfig(t, `
tracing:
  enabled: true
  service_name: ntt-paper
  sample_ratio: 0.25
`))
	require.NoError(t, err)
	tc = c.TracingConfig("1.2.0")
	assert.True(t, tc.Enabled)
	assert.Equal(t, "ntt-paper", tc.ServiceName)
	assert.Equal(t, "1.2.0", tc.Version)
	assert.Equal(t, 0.25, tc.SampleRatio)
}
