package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"news-trend-trader/internal/broker/paper"
	"news-trend-trader/internal/broker/zerodha"
	"news-trend-trader/internal/fuser"
	"news-trend-trader/internal/ledger"
	"news-trend-trader/internal/market"
	"news-trend-trader/internal/risk"
	"news-trend-trader/internal/types"
)

var ten = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func minute(m int) time.Time { return ten.Add(time.Duration(m) * time.Minute) }

type harness struct {
	store  *market.BarStore
	ledger *ledger.Ledger
	router *paper.Router
	engine *Engine
	now    time.Time
}

func newHarness(t *testing.T, router interface {
	Submit(context.Context, types.OrderProposal) (types.OrderHandle, error)
	OnFill(func(types.Fill))
	Cancel(context.Context, types.OrderHandle) error
}, opts ...paper.Option) *harness {
	t.Helper()
	h := &harness{
		store:  market.NewBarStore(0),
		ledger: ledger.New(10000),
		now:    ten,
	}
	if router == nil {
		h.router = paper.NewRouter(opts...)
		router = h.router
	}
	rc := risk.DefaultConfig()
	rc.ATRWindow = 3
	h.engine = New(Deps{
		Market: h.store,
		Router: router,
		Ledger: h.ledger,
		Fuser:  fuser.New(fuser.Config{ConfidenceThreshold: 0.85, FastWindow: 2, SlowWindow: 4}),
		Risk:   risk.New(rc),
		Clock:  func() time.Time { return h.now },
	})
	return h
}

// seed appends n rising one-minute bars ending at 10:00 with close last.
func (h *harness) seed(t *testing.T, inst string, n int, last, step float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		c := last - float64(n-1-i)*step
		require.NoError(t, h.store.Append(types.PriceBar{
			InstrumentID: inst,
			Timestamp:    ten.Add(-time.Duration(n-1-i) * time.Minute),
			Open:         c, High: c + 1, Low: c - 1, Close: c,
		}))
	}
}

func sig(inst, src string, at time.Time, label types.Label, conf float64) types.SentimentSignal {
	return types.SentimentSignal{InstrumentID: inst, Timestamp: at, Label: label, Confidence: conf, SourceID: src}
}

func TestCycleOpensBracketedPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "AAPL", 10, 150, 1)

	res, err := h.engine.Cycle(context.Background(), []types.SentimentSignal{
		sig("AAPL", "n1", ten, types.LabelPositive, 0.90),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Signals)
	assert.Equal(t, 1, res.Intents)
	require.Len(t, res.Submitted, 1)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, types.FillEntry, res.Fills[0].Kind)

	pos, ok := res.Positions["AAPL"]
	require.True(t, ok)
	assert.Equal(t, 6.0, pos.Quantity)
	assert.InDelta(t, 147.0, pos.StopPrice, 1e-9)
	assert.InDelta(t, 156.0, pos.TargetPrice, 1e-9)
	assert.InDelta(t, 10000.0, res.Equity, 1e-9)
	assert.InDelta(t, 9100.0, h.ledger.Cash(), 1e-9)
	assert.Empty(t, h.engine.Pending())
}

func TestCycleLowConfidenceDoesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "AAPL", 10, 150, 1)

	res, err := h.engine.Cycle(context.Background(), []types.SentimentSignal{
		sig("AAPL", "n1", ten, types.LabelPositive, 0.80),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Submitted)
	assert.Equal(t, 1, res.Rejections[fuser.ReasonLowConfidence])
	assert.False(t, h.ledger.Has("AAPL"))
}

func TestCycleSecondSignalSameBatchIsDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "AAPL", 10, 150, 1)

	res, err := h.engine.Cycle(context.Background(), []types.SentimentSignal{
		sig("AAPL", "n2", ten, types.LabelPositive, 0.95),
		sig("AAPL", "n1", minute(-1), types.LabelPositive, 0.90),
	})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 1)
	assert.Equal(t, 1, res.Rejections["duplicate_exposure"])

	// processed in timestamp order: the 09:59 signal won with the 09:59 close
	pos := res.Positions["AAPL"]
	assert.Equal(t, 149.0, pos.EntryPrice)
}

func TestCycleDeduplicatesSourceAndInstrument(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "AAPL", 10, 150, 1)

	s := sig("AAPL", "n1", ten, types.LabelPositive, 0.90)
	res, err := h.engine.Cycle(context.Background(), []types.SentimentSignal{s, s})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejections["duplicate_signal"])
	assert.Equal(t, 1, res.Intents)
}

func TestCycleSettlesExitOnLaterBar(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "AAPL", 10, 150, 1)

	_, err := h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n1", ten, types.LabelPositive, 0.90)})
	require.NoError(t, err)

	require.NoError(t, h.store.Append(types.PriceBar{InstrumentID: "AAPL", Timestamp: minute(1), Open: 151, High: 153, Low: 149, Close: 152}))
	h.now = minute(1)
	res, err := h.engine.Cycle(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.InDelta(t, 10012.0, res.Equity, 1e-9)

	require.NoError(t, h.store.Append(types.PriceBar{InstrumentID: "AAPL", Timestamp: minute(2), Open: 152, High: 157, Low: 151, Close: 156.5}))
	h.now = minute(2)
	res, err = h.engine.Cycle(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, types.FillTarget, res.Fills[0].Kind)
	assert.Empty(t, res.Positions)
	assert.InDelta(t, 10036.0, res.Equity, 1e-9)
}

type flakyRouter struct {
	*paper.Router
	failFor string
}

func (f *flakyRouter) Submit(ctx context.Context, p types.OrderProposal) (types.OrderHandle, error) {
	if p.InstrumentID == f.failFor {
		return "", fmt.Errorf("%w: broker unavailable", types.ErrRouterFailure)
	}
	return f.Router.Submit(ctx, p)
}

func TestCycleRouterFailureIsReturnedAfterBatch(t *testing.T) {
	router := &flakyRouter{Router: paper.NewRouter(), failFor: "AAPL"}
	h := newHarness(t, router)
	h.seed(t, "AAPL", 10, 150, 1)
	h.seed(t, "MSFT", 10, 300, 1)

	res, err := h.engine.Cycle(context.Background(), []types.SentimentSignal{
		sig("AAPL", "n1", ten, types.LabelPositive, 0.90),
		sig("MSFT", "n2", ten, types.LabelPositive, 0.90),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRouterFailure)
	require.NotNil(t, res)

	assert.False(t, h.ledger.Has("AAPL"), "no fill assumed for a failed submission")
	assert.True(t, h.ledger.Has("MSFT"), "later signals still processed")
	assert.Equal(t, 1, res.Rejections["router_failure"])
}

func TestCycleMissingMarketDataIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.Cycle(context.Background(), []types.SentimentSignal{
		sig("NOPE", "n1", ten, types.LabelPositive, 0.99),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejections[fuser.ReasonInsufficientData])
}

func TestCancelPendingLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, paper.WithDeferredFills())
	h.seed(t, "AAPL", 10, 150, 1)

	res, err := h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n1", ten, types.LabelPositive, 0.90)})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 1)
	assert.Empty(t, res.Fills)
	assert.Equal(t, []string{"AAPL"}, h.engine.Pending())

	// a pending entry already counts as exposure
	res, err = h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n2", ten, types.LabelPositive, 0.90)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejections["duplicate_exposure"])

	require.NoError(t, h.engine.Cancel(ctx, "AAPL"))
	assert.Empty(t, h.engine.Pending())
	assert.Empty(t, h.router.FillPending(ctx))

	res, err = h.engine.Cycle(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.InDelta(t, 10000.0, h.ledger.Cash(), 1e-9)

	assert.ErrorIs(t, h.engine.Cancel(ctx, "AAPL"), types.ErrUnknownOrder)
}

func TestDeferredFillAppliedNextCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, paper.WithDeferredFills())
	h.seed(t, "AAPL", 10, 150, 1)

	_, err := h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n1", ten, types.LabelPositive, 0.90)})
	require.NoError(t, err)
	assert.False(t, h.ledger.Has("AAPL"))

	// the broker reports the fill between cycles
	h.router.FillPending(ctx)
	assert.False(t, h.ledger.Has("AAPL"), "fills wait for the next cycle")

	res, err := h.engine.Cycle(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.True(t, h.ledger.Has("AAPL"))
	assert.ErrorIs(t, h.engine.Cancel(ctx, "AAPL"), types.ErrUnknownOrder)
}

func TestCycleIgnoresBarsAfterClock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t, "AAPL", 10, 150, 1)

	_, err := h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n1", ten, types.LabelPositive, 0.90)})
	require.NoError(t, err)

	// preloaded history already holds a bar that crosses the target
	require.NoError(t, h.store.Append(types.PriceBar{InstrumentID: "AAPL", Timestamp: minute(1), Open: 152, High: 157, Low: 151, Close: 156.5}))
	res, err := h.engine.Cycle(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.True(t, h.ledger.Has("AAPL"))
	assert.InDelta(t, 10000.0, res.Equity, 1e-9, "marked at the 10:00 close")

	h.now = minute(1)
	res, err = h.engine.Cycle(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, types.FillTarget, res.Fills[0].Kind)
}

// kiteStub accepts every bracket and numbers them OID1, OID2, ...
type kiteStub struct {
	placed int
}

func (k *kiteStub) PlaceOrder(string, kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
	k.placed++
	return kiteconnect.OrderResponse{OrderID: fmt.Sprintf("OID%d", k.placed)}, nil
}

func (k *kiteStub) CancelOrder(_ string, orderID string, _ *string) (kiteconnect.OrderResponse, error) {
	return kiteconnect.OrderResponse{OrderID: orderID}, nil
}

func TestBrokerRejectedEntryReleasesInstrument(t *testing.T) {
	for _, status := range []string{"REJECTED", "CANCELLED"} {
		t.Run(status, func(t *testing.T) {
			ctx := context.Background()
			kite := &kiteStub{}
			router := zerodha.NewRouter(kite, zerodha.Params{Exchange: "NSE", Product: "MIS"})
			h := newHarness(t, router)
			h.seed(t, "AAPL", 10, 150, 1)
			view := &exposureView{ledger: h.ledger, pending: h.engine.pending}

			res, err := h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n1", ten, types.LabelPositive, 0.90)})
			require.NoError(t, err)
			require.Equal(t, []types.OrderHandle{"OID1"}, res.Submitted)
			assert.Equal(t, []string{"AAPL"}, h.engine.Pending())
			assert.InDelta(t, 9100.0, view.Cash(), 1e-9, "entry cost reserved")

			router.HandleOrderUpdate(kiteconnect.Order{OrderID: "OID1", Status: status})

			res, err = h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n2", ten, types.LabelPositive, 0.90)})
			require.NoError(t, err)
			assert.Zero(t, res.Rejections["duplicate_exposure"])
			assert.Equal(t, []types.OrderHandle{"OID2"}, res.Submitted)
			assert.Empty(t, res.Fills)
			assert.False(t, h.ledger.Has("AAPL"))
			assert.Equal(t, 2, kite.placed)
			assert.InDelta(t, 10000.0, h.ledger.Cash(), 1e-9)
			assert.InDelta(t, 9100.0, view.Cash(), 1e-9, "only the new entry is reserved")
		})
	}
}

func TestBrokerRejectionClearsReservation(t *testing.T) {
	ctx := context.Background()
	router := zerodha.NewRouter(&kiteStub{}, zerodha.Params{Exchange: "NSE", Product: "MIS"})
	h := newHarness(t, router)
	h.seed(t, "AAPL", 10, 150, 1)
	view := &exposureView{ledger: h.ledger, pending: h.engine.pending}

	_, err := h.engine.Cycle(ctx, []types.SentimentSignal{sig("AAPL", "n1", ten, types.LabelPositive, 0.90)})
	require.NoError(t, err)
	router.HandleOrderUpdate(kiteconnect.Order{OrderID: "OID1", Status: "REJECTED"})

	_, err = h.engine.Cycle(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, h.engine.Pending())
	assert.Empty(t, h.engine.brackets)
	assert.False(t, view.Has("AAPL"))
	assert.InDelta(t, h.ledger.Cash(), view.Cash(), 1e-9)
	assert.ErrorIs(t, h.engine.Cancel(ctx, "AAPL"), types.ErrUnknownOrder)
}
