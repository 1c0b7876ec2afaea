package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-trend-trader/internal/ta"
	"news-trend-trader/internal/types"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeView struct {
	held   map[string]bool
	equity float64
	cash   float64
}

func (v fakeView) Has(inst string) bool { return v.held[inst] }
func (v fakeView) TotalEquity() float64 { return v.equity }
func (v fakeView) Cash() float64 { return v.cash }

func flatView(equity float64) fakeView {
	return fakeView{held: map[string]bool{}, equity: equity, cash: equity}
}

// steadyBars ends at t0 with a constant close and a high-low range of 2,
// so every true range is 2.
func steadyBars(n int, close float64) []types.PriceBar {
	out := make([]types.PriceBar, n)
	start := t0.Add(-time.Duration(n-1) * time.Minute)
	for i := range out {
		out[i] = types.PriceBar{
			InstrumentID: "AAPL",
			Timestamp:    start.Add(time.Duration(i) * time.Minute),
			Open:         close, High: close + 1, Low: close - 1, Close: close,
		}
	}
	return out
}

func intent(side types.Side) types.TradeIntent {
	return types.TradeIntent{InstrumentID: "AAPL", Side: side, Timestamp: t0, Confidence: 0.9}
}

func TestEvaluateLongScenario(t *testing.T) {
	m := New(DefaultConfig())
	p, err := m.Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), flatView(10000))
	require.NoError(t, err)

	assert.Equal(t, "AAPL", p.InstrumentID)
	assert.Equal(t, types.SideLong, p.Side)
	assert.Equal(t, types.EntryMarket, p.EntryType)
	assert.InDelta(t, 2.0, p.ATR, 1e-9)
	assert.InDelta(t, 150.0, p.EntryPrice, 1e-9)
	assert.InDelta(t, 147.0, p.StopPrice, 1e-9)
	assert.InDelta(t, 156.0, p.TargetPrice, 1e-9)
	assert.Equal(t, 6.0, p.Quantity)
}

func TestEvaluateShortMirrorsBracket(t *testing.T) {
	m := New(DefaultConfig())
	p, err := m.Evaluate(context.Background(), intent(types.SideShort), steadyBars(20, 150), flatView(10000))
	require.NoError(t, err)
	assert.InDelta(t, 153.0, p.StopPrice, 1e-9)
	assert.InDelta(t, 144.0, p.TargetPrice, 1e-9)
	assert.Equal(t, 6.0, p.Quantity)
}

func TestEvaluateDuplicateExposureChecksFirst(t *testing.T) {
	view := flatView(10000)
	view.held["AAPL"] = true

	// no bars at all: the exposure check must win over missing data
	_, err := New(DefaultConfig()).Evaluate(context.Background(), intent(types.SideLong), nil, view)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDuplicateExposure))

	var rej *types.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "AAPL", rej.InstrumentID)
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	_, err := New(DefaultConfig()).Evaluate(context.Background(), intent(types.SideLong), steadyBars(14, 150), flatView(10000))
	assert.ErrorIs(t, err, types.ErrInsufficientData)
}

func TestEvaluateZeroATR(t *testing.T) {
	bars := steadyBars(20, 150)
	for i := range bars {
		bars[i].High, bars[i].Low = 150, 150
	}
	_, err := New(DefaultConfig()).Evaluate(context.Background(), intent(types.SideLong), bars, flatView(10000))
	assert.ErrorIs(t, err, types.ErrInsufficientData)
}

func TestEvaluateBracketBelowZero(t *testing.T) {
	// atr 2 at a close of 2: the long stop and the short target land below zero
	bars := steadyBars(20, 2)
	m := New(DefaultConfig())

	_, err := m.Evaluate(context.Background(), intent(types.SideLong), bars, flatView(10000))
	assert.ErrorIs(t, err, types.ErrInsufficientData)
	_, err = m.Evaluate(context.Background(), intent(types.SideShort), bars, flatView(10000))
	assert.ErrorIs(t, err, types.ErrInsufficientData)

	// the target side of a long and the stop side of a short stay positive
	p, err := m.Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 10), flatView(10000))
	require.NoError(t, err)
	assert.InDelta(t, 7.0, p.StopPrice, 1e-9)
}

func TestEvaluateAllocationExceeded(t *testing.T) {
	// 10% of 1000 is 100, which cannot buy one unit at 150
	_, err := New(DefaultConfig()).Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), flatView(1000))
	assert.ErrorIs(t, err, types.ErrAllocationExceeded)
	assert.Equal(t, "allocation_exceeded", types.ReasonCode(err))
}

func TestEvaluateLongCappedByCash(t *testing.T) {
	view := fakeView{held: map[string]bool{}, equity: 10000, cash: 400}
	p, err := New(DefaultConfig()).Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), view)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Quantity)
}

func TestEvaluateLotSizeAndFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LotSizes = map[string]float64{"AAPL": 5}
	p, err := New(cfg).Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), flatView(10000))
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Quantity)

	cfg = DefaultConfig()
	cfg.PositionFraction = 0.05
	p, err = New(cfg).Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), flatView(10000))
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.Quantity)

	// a fraction above the cap is clamped to the cap
	cfg.PositionFraction = 0.5
	p, err = New(cfg).Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), flatView(10000))
	require.NoError(t, err)
	assert.Equal(t, 6.0, p.Quantity)
}

func TestEvaluateTickRounding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KStop = 1.3 // 150 - 2.6 = 147.4
	cfg.KTarget = 2.7
	cfg.TickSize = 0.5
	p, err := New(cfg).Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), flatView(10000))
	require.NoError(t, err)
	assert.InDelta(t, 147.0, p.StopPrice, 1e-9)
	assert.InDelta(t, 155.5, p.TargetPrice, 1e-9)
}

func TestSizeNeverExceedsBudget(t *testing.T) {
	m := New(DefaultConfig())
	cfg := m.Config()
	cfg.LotSize = 0.1
	m = New(cfg)

	for _, entry := range []float64{0.3, 1.7, 3.33, 99.99, 149.95} {
		for _, equity := range []float64{1000, 1234.56, 99999.99} {
			budget := 0.10 * equity
			qty := m.size("X", entry, budget)
			assert.LessOrEqual(t, qty*entry, budget, "entry=%v equity=%v", entry, equity)
			assert.Greater(t, (qty+0.1)*entry, budget*0.999, "entry=%v equity=%v", entry, equity)
		}
	}
}

func TestSmoothingIsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ATRSmoothing = ta.SmoothingSimple
	p, err := New(cfg).Evaluate(context.Background(), intent(types.SideLong), steadyBars(20, 150), flatView(10000))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, p.ATR, 1e-9)
}
