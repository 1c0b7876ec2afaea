package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-trend-trader/internal/types"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func long(inst string, qty, entry float64) types.Position {
	return types.Position{InstrumentID: inst, Side: types.SideLong, Quantity: qty, EntryPrice: entry, StopPrice: entry - 3, TargetPrice: entry + 6, OpenedAt: t0}
}

func TestOpenLongAndMark(t *testing.T) {
	l := New(10000)
	require.NoError(t, l.Open(long("AAPL", 6, 150)))

	assert.InDelta(t, 9100, l.Cash(), 1e-9)
	assert.InDelta(t, 10000, l.TotalEquity(), 1e-9)
	assert.True(t, l.Has("AAPL"))

	l.Mark("AAPL", 160)
	assert.InDelta(t, 10060, l.TotalEquity(), 1e-9)
}

func TestOpenShortCreditsCash(t *testing.T) {
	l := New(10000)
	pos := long("TSLA", 4, 200)
	pos.Side = types.SideShort
	require.NoError(t, l.Open(pos))

	p, ok := l.Position("TSLA")
	require.True(t, ok)
	assert.Equal(t, -4.0, p.Quantity)
	assert.InDelta(t, 10800, l.Cash(), 1e-9)
	assert.InDelta(t, 10000, l.TotalEquity(), 1e-9)

	l.Mark("TSLA", 190)
	assert.InDelta(t, 10040, l.TotalEquity(), 1e-9)

	trade, err := l.Close("TSLA", 190, t0.Add(time.Hour), types.FillTarget)
	require.NoError(t, err)
	assert.InDelta(t, 40, trade.PnL, 1e-9)
	assert.Equal(t, 4.0, trade.Quantity)
	assert.InDelta(t, 10040, l.Cash(), 1e-9)
	assert.False(t, l.Has("TSLA"))
}

func TestOpenRefusesDuplicate(t *testing.T) {
	l := New(10000)
	require.NoError(t, l.Open(long("AAPL", 6, 150)))
	err := l.Open(long("AAPL", 1, 151))
	assert.ErrorIs(t, err, types.ErrDuplicateExposure)
	assert.InDelta(t, 9100, l.Cash(), 1e-9, "ledger unchanged")
}

func TestCloseLong(t *testing.T) {
	l := New(10000)
	require.NoError(t, l.Open(long("AAPL", 6, 150)))

	trade, err := l.Close("AAPL", 147, t0.Add(time.Minute), types.FillStop)
	require.NoError(t, err)
	assert.InDelta(t, -18, trade.PnL, 1e-9)
	assert.Equal(t, types.FillStop, trade.Reason)
	assert.InDelta(t, 9982, l.Cash(), 1e-9)
	assert.InDelta(t, 9982, l.TotalEquity(), 1e-9)
	assert.Len(t, l.ClosedTrades(), 1)

	_, err = l.Close("AAPL", 147, t0, types.FillStop)
	assert.ErrorIs(t, err, types.ErrNoPosition)
}

func TestRecordEquityOnePointPerTimestamp(t *testing.T) {
	l := New(1000)
	l.RecordEquity(t0)
	l.Mark("X", 1)
	require.NoError(t, l.Open(long("X", 10, 10)))
	l.Mark("X", 12)
	l.RecordEquity(t0) // replaces
	l.RecordEquity(t0.Add(time.Minute))
	l.RecordEquity(t0.Add(-time.Minute)) // ignored

	h := l.EquityHistory()
	require.Len(t, h, 2)
	assert.InDelta(t, 1020, h[0].Equity, 1e-9)
	assert.Equal(t, t0.Add(time.Minute), h[1].Timestamp)
}

func TestPositionsSortedAndSnapshot(t *testing.T) {
	l := New(100000)
	for _, id := range []string{"MSFT", "AAPL", "GOOG"} {
		require.NoError(t, l.Open(long(id, 1, 100)))
	}
	ps := l.Positions()
	require.Len(t, ps, 3)
	assert.Equal(t, "AAPL", ps[0].InstrumentID)
	assert.Equal(t, "MSFT", ps[2].InstrumentID)

	snap := l.Snapshot()
	assert.InDelta(t, 99700, snap.Cash, 1e-9)
	assert.InDelta(t, 100000, snap.Equity, 1e-9)

	l.Reset(5)
	assert.Equal(t, 5.0, l.Cash())
	assert.Empty(t, l.Positions())
	assert.Empty(t, l.EquityHistory())
}
