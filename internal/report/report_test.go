package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-trend-trader/internal/backtest"
	"news-trend-trader/internal/tradelog"
	"news-trend-trader/internal/types"
)

var t0 = time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC) // 09:30 IST

func sampleResult() *backtest.Result {
	return &backtest.Result{
		Equity: []types.EquityPoint{
			{Timestamp: t0, Equity: 10000},
			{Timestamp: t0.Add(time.Minute), Equity: 10036},
		},
		ClosedTrades: []types.ClosedTrade{{
			InstrumentID: "INFY", Side: types.SideLong, Quantity: 6,
			EntryPrice: 150, ExitPrice: 156, OpenedAt: t0, ClosedAt: t0.Add(time.Minute),
			Reason: types.FillTarget, PnL: 36,
		}},
		Decisions: []types.DecisionRecord{{
			InstrumentID: "INFY", Timestamp: t0, Label: types.LabelPositive, Confidence: 0.9,
			SourceID: "n1", Outcome: "submitted", Reason: "confirmed", Quantity: 6,
		}},
		Stats: backtest.Stats{InitialEquity: 10000, FinalEquity: 10036, Trades: 1, Wins: 1},
	}
}

func TestWriteEquity(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEquity(&buf, sampleResult().Equity))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,equity", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2024-03-01T04:00:00Z,"))
}

func TestWriteTradesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, sampleResult().ClosedTrades))

	var rows []*tradeRow
	require.NoError(t, gocsv.Unmarshal(&buf, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "INFY", rows[0].InstrumentID)
	assert.Equal(t, "TARGET", rows[0].Reason)
	assert.Equal(t, 36.0, rows[0].PnL)
}

func TestWriteBacktest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WriteBacktest(dir, sampleResult())
	require.NoError(t, err)
	require.Len(t, paths, 4)

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	b, err := os.ReadFile(filepath.Join(dir, "stats.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "initial_equity,final_equity,total_return,max_drawdown"))
}

func TestSummarize(t *testing.T) {
	fills := []types.Fill{
		{InstrumentID: "TCS", Kind: types.FillEntry, Side: types.SideShort, Quantity: 5, Price: 100},
		{InstrumentID: "INFY", Kind: types.FillEntry, Side: types.SideLong, Quantity: 6, Price: 150},
		{InstrumentID: "INFY", Kind: types.FillTarget, Side: types.SideLong, Quantity: 6, Price: 156},
		{InstrumentID: "TCS", Kind: types.FillStop, Side: types.SideShort, Quantity: 5, Price: 102},
	}
	rows := Summarize(fills)
	require.Len(t, rows, 3)

	infy, tcs, total := rows[0], rows[1], rows[2]
	assert.Equal(t, "INFY", infy.InstrumentID)
	assert.Equal(t, 1, infy.Entries)
	assert.Equal(t, 1, infy.Exits)
	assert.InDelta(t, 36.0, infy.RealizedPnL, 1e-9)

	assert.Equal(t, "TCS", tcs.InstrumentID)
	assert.Equal(t, 5.0, tcs.SellQty, "short entry is a sell")
	assert.Equal(t, 5.0, tcs.BuyQty, "short cover is a buy")
	assert.InDelta(t, -10.0, tcs.RealizedPnL, 1e-9)

	assert.Equal(t, "TOTAL", total.InstrumentID)
	assert.InDelta(t, 26.0, total.RealizedPnL, 1e-9)
	assert.Equal(t, 2, total.Entries)

	assert.Nil(t, Summarize(nil))
}

func TestDailySummarizeDay(t *testing.T) {
	ctx := context.Background()
	j := tradelog.NewFileJournal(t.TempDir())
	d := NewDaily(j)

	p, err := d.SummarizeDay(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, p, "no fills, no file")

	require.NoError(t, j.RecordFill(ctx, types.Fill{Handle: "h", InstrumentID: "INFY", Kind: types.FillEntry, Side: types.SideLong, Quantity: 6, Price: 150, Timestamp: t0}))
	require.NoError(t, j.RecordFill(ctx, types.Fill{Handle: "h", InstrumentID: "INFY", Kind: types.FillTarget, Side: types.SideLong, Quantity: 6, Price: 156, Timestamp: t0.Add(time.Hour)}))

	p, err = d.SummarizeDay(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(j.Root(), "eod", "2024-03-01.csv"), p)

	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	var rows []*InstrumentSummary
	require.NoError(t, gocsv.Unmarshal(f, &rows))
	require.Len(t, rows, 2)
	assert.InDelta(t, 36.0, rows[0].RealizedPnL, 1e-9)
}

func TestDailyShouldRun(t *testing.T) {
	d := NewDaily(tradelog.NewFileJournal(t.TempDir()))

	morning := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC) // 09:30 IST
	ok, _ := d.ShouldRun(morning)
	assert.False(t, ok)

	evening := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC) // 16:00 IST
	ok, p := d.ShouldRun(evening)
	assert.True(t, ok)

	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	ok, _ = d.ShouldRun(evening)
	assert.False(t, ok, "already written")
}
