package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"news-trend-trader/internal/fuser"
	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/ledger"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/metrics"
	"news-trend-trader/internal/notify"
	"news-trend-trader/internal/risk"
	"news-trend-trader/internal/types"
)

// Deps are the collaborators of a live engine. Journal, Notifier and Metrics are optional.
type Deps struct {
	Market   interfaces.MarketData
	Router   interfaces.OrderRouter
	Ledger   *ledger.Ledger
	Fuser    *fuser.Fuser
	Risk     *risk.Manager
	Journal  interfaces.Journal
	Notifier interfaces.Notifier
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// pendingEntry is a submitted bracket whose entry has not filled yet.
type pendingEntry struct {
	handle   types.OrderHandle
	proposal types.OrderProposal
}

// Engine runs one evaluation cycle at a time. The ledger is only written
// from Cycle; router fills are queued and applied there.
type Engine struct {
	d Deps

	mu      sync.Mutex
	queue   []types.Fill        // fills reported by the router, in arrival order
	dropped []types.OrderHandle // entries the broker rejected or cancelled

	pending  map[string]pendingEntry // instrument -> awaiting entry fill
	brackets map[types.OrderHandle]types.OrderProposal
	observed map[string]time.Time // last bar fed to a BarObserver router
}

func newEngine(d Deps) *Engine {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	e := &Engine{
		d:        d,
		pending:  make(map[string]pendingEntry),
		brackets: make(map[types.OrderHandle]types.OrderProposal),
		observed: make(map[string]time.Time),
	}
	d.Router.OnFill(e.enqueue)
	if n, ok := d.Router.(interfaces.CancelNotifier); ok {
		n.OnCancel(e.enqueueDrop)
	}
	return e
}

func (e *Engine) enqueueDrop(h types.OrderHandle) {
	e.mu.Lock()
	e.dropped = append(e.dropped, h)
	e.mu.Unlock()
}

func (e *Engine) enqueue(f types.Fill) {
	e.mu.Lock()
	e.queue = append(e.queue, f)
	e.mu.Unlock()
}

func (e *Engine) drain() []types.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.queue
	e.queue = nil
	return out
}

// settle applies queued fills, then releases entries the broker dropped so
// their instrument can trade again and their cash is no longer reserved.
func (e *Engine) settle(ctx context.Context) []types.Fill {
	applied := e.applyFills(ctx, e.drain())

	e.mu.Lock()
	dropped := e.dropped
	e.dropped = nil
	e.mu.Unlock()

	for _, h := range dropped {
		p, known := e.brackets[h]
		if !known {
			continue
		}
		delete(e.brackets, h)
		if pe, ok := e.pending[p.InstrumentID]; ok && pe.handle == h {
			delete(e.pending, p.InstrumentID)
		}
		logger.Warn(ctx, "Entry dropped by broker", "instrument", p.InstrumentID, "handle", string(h))
		e.d.Notifier.Sendf("order dropped %s (%s)", p.InstrumentID, h)
	}
	return applied
}

// Cycle runs one evaluation pass over a batch of signals.
//
// Order of work:
//   - apply fills and release dropped entries reported since the last cycle
//   - refresh prices of held instruments up to the clock and settle simulated brackets
//   - evaluate signals sequentially in timestamp order
//   - apply fills produced by this batch, record equity
//
// Data errors and rejections are logged and skipped. Router failures are
// returned, combined, after the whole batch has been processed.
func (e *Engine) Cycle(ctx context.Context, signals []types.SentimentSignal) (*types.CycleResult, error) {
	start := time.Now()
	res := &types.CycleResult{Signals: len(signals), Rejections: make(map[string]int)}

	res.Fills = append(res.Fills, e.settle(ctx)...)
	e.refresh(ctx)
	res.Fills = append(res.Fills, e.settle(ctx)...)

	batch := make([]types.SentimentSignal, len(signals))
	copy(batch, signals)
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Timestamp.Before(batch[j].Timestamp) })

	var errs error
	seen := make(map[string]struct{}, len(batch))
	for _, sig := range batch {
		key := sig.SourceID + "|" + sig.InstrumentID
		if sig.SourceID != "" {
			if _, dup := seen[key]; dup {
				res.Rejections["duplicate_signal"]++
				continue
			}
			seen[key] = struct{}{}
		}

		handle, reason, err := e.evaluate(ctx, sig, res)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sig.InstrumentID, err))
			res.Rejections[reason]++
		case handle != "":
			res.Submitted = append(res.Submitted, handle)
		default:
			res.Rejections[reason]++
		}
	}

	res.Fills = append(res.Fills, e.settle(ctx)...)

	pt := e.d.Ledger.RecordEquity(e.d.Clock())
	res.Equity = pt.Equity
	res.Positions = make(map[string]types.Position)
	for _, p := range e.d.Ledger.Positions() {
		res.Positions[p.InstrumentID] = p
	}
	e.d.Metrics.Portfolio(pt.Equity, len(res.Positions))
	e.d.Metrics.Cycle(time.Since(start))
	return res, errs
}

// evaluate runs one signal through fuser, risk and router. It returns the
// handle on submission, otherwise the outcome reason; err is set only for
// router failures.
func (e *Engine) evaluate(ctx context.Context, sig types.SentimentSignal, res *types.CycleResult) (types.OrderHandle, string, error) {
	rec := types.DecisionRecord{
		InstrumentID: sig.InstrumentID,
		Timestamp:    sig.Timestamp,
		Label:        sig.Label,
		Confidence:   sig.Confidence,
		SourceID:     sig.SourceID,
	}

	bars, err := e.d.Market.BarsUpTo(ctx, sig.InstrumentID, sig.Timestamp)
	if err != nil {
		logger.Warn(ctx, "No market data for signal", "instrument", sig.InstrumentID, "error", err.Error())
		bars = nil
	}

	intent, reason, ok := e.d.Fuser.Evaluate(sig, bars)
	e.d.Metrics.Signal(reason)
	if !ok {
		rec.Outcome, rec.Reason = "no_intent", reason
		e.journalDecision(ctx, rec)
		logger.Debug(ctx, "Signal not confirmed", "instrument", sig.InstrumentID, "reason", reason)
		return "", reason, nil
	}
	res.Intents++

	proposal, err := e.d.Risk.Evaluate(ctx, intent, bars, &exposureView{ledger: e.d.Ledger, pending: e.pending})
	if err != nil {
		code := types.ReasonCode(err)
		e.d.Metrics.Rejection(code)
		rec.Outcome, rec.Reason = "rejected", code
		e.journalDecision(ctx, rec)
		return "", code, nil
	}

	handle, err := e.d.Router.Submit(ctx, proposal)
	if err != nil {
		e.d.Metrics.Order(false)
		rec.Outcome, rec.Reason = "failed", types.ReasonCode(types.ErrRouterFailure)
		e.journalDecision(ctx, rec)
		logger.ErrorWithErr(ctx, "Bracket submission failed", err, "instrument", sig.InstrumentID, "qty", proposal.Quantity)
		e.d.Notifier.Sendf("order failed %s: %v", sig.InstrumentID, err)
		return "", rec.Reason, err
	}
	e.d.Metrics.Order(true)

	e.pending[proposal.InstrumentID] = pendingEntry{handle: handle, proposal: proposal}
	e.brackets[handle] = proposal

	rec.Outcome, rec.Reason = "submitted", reason
	rec.Quantity = proposal.Quantity
	rec.EntryPrice = proposal.EntryPrice
	rec.StopPrice = proposal.StopPrice
	rec.TargetPrice = proposal.TargetPrice
	e.journalDecision(ctx, rec)

	logger.Decision(ctx, sig.InstrumentID, string(intent.Side), sig.Confidence, reason,
		"handle", string(handle),
		"qty", proposal.Quantity,
		"entry", proposal.EntryPrice,
		"stop", proposal.StopPrice,
		"target", proposal.TargetPrice,
		"atr", proposal.ATR,
	)
	return handle, reason, nil
}

// refresh marks held and pending instruments from the last bar at or before
// the clock and, for a router that settles brackets itself, replays bars it
// has not yet seen. Bars stamped after the clock are left for later cycles.
func (e *Engine) refresh(ctx context.Context) {
	observer, settles := e.d.Router.(interfaces.BarObserver)
	now := e.d.Clock()

	for _, inst := range e.tracked() {
		upTo, err := e.d.Market.BarsUpTo(ctx, inst, now)
		if err != nil || len(upTo) == 0 {
			logger.Debug(ctx, "No settled bar for held instrument", "instrument", inst)
			continue
		}
		latest := upTo[len(upTo)-1]
		if settles {
			since, ok := e.observed[inst]
			if !ok {
				since = latest.Timestamp.Add(-time.Nanosecond)
			}
			bars, err := e.d.Market.BarsBetween(ctx, inst, since, latest.Timestamp)
			if err == nil {
				for _, b := range bars {
					observer.OnBar(ctx, b)
				}
			}
			e.observed[inst] = latest.Timestamp
		}
		e.d.Ledger.Mark(inst, latest.Close)
	}
}

// tracked lists held and pending instruments, sorted.
func (e *Engine) tracked() []string {
	set := make(map[string]struct{})
	for _, p := range e.d.Ledger.Positions() {
		set[p.InstrumentID] = struct{}{}
	}
	for inst := range e.pending {
		set[inst] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for inst := range set {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// applyFills books fills in arrival order. A fill that cannot be booked is
// logged; it never aborts the cycle.
func (e *Engine) applyFills(ctx context.Context, fills []types.Fill) []types.Fill {
	applied := make([]types.Fill, 0, len(fills))
	for _, f := range fills {
		if err := e.applyFill(f); err != nil {
			logger.ErrorWithErr(ctx, "Failed to apply fill", err,
				"instrument", f.InstrumentID,
				"kind", string(f.Kind),
				"handle", string(f.Handle),
			)
			continue
		}
		applied = append(applied, f)

		logger.Trade(ctx, f.InstrumentID, string(f.Kind), f.Quantity, f.Price, string(f.Handle), "side", string(f.Side))
		e.d.Metrics.Fill(string(f.Kind))
		e.d.Notifier.Send(notify.FormatFill(f))
		if e.d.Journal != nil {
			if err := e.d.Journal.RecordFill(ctx, f); err != nil {
				logger.ErrorWithErr(ctx, "Failed to journal fill", err, "handle", string(f.Handle))
			}
		}
	}
	return applied
}

func (e *Engine) applyFill(f types.Fill) error {
	if f.Kind == types.FillEntry {
		p, known := e.brackets[f.Handle]
		if pe, ok := e.pending[f.InstrumentID]; ok && pe.handle == f.Handle {
			delete(e.pending, f.InstrumentID)
		}
		if !known {
			p = types.OrderProposal{InstrumentID: f.InstrumentID, Side: f.Side}
		}
		if _, seen := e.observed[f.InstrumentID]; !seen || f.Timestamp.After(e.observed[f.InstrumentID]) {
			e.observed[f.InstrumentID] = f.Timestamp
		}
		return e.d.Ledger.Open(types.Position{
			InstrumentID: f.InstrumentID,
			Side:         f.Side,
			Quantity:     f.Quantity,
			EntryPrice:   f.Price,
			StopPrice:    p.StopPrice,
			TargetPrice:  p.TargetPrice,
			OpenedAt:     f.Timestamp,
		})
	}
	delete(e.brackets, f.Handle)
	_, err := e.d.Ledger.Close(f.InstrumentID, f.Price, f.Timestamp, f.Kind)
	return err
}

// Cancel withdraws a pending bracket. Nothing reaches the ledger for a
// canceled order.
func (e *Engine) Cancel(ctx context.Context, instrument string) error {
	pe, ok := e.pending[instrument]
	if !ok {
		return fmt.Errorf("%w: no pending order for %s", types.ErrUnknownOrder, instrument)
	}
	if err := e.d.Router.Cancel(ctx, pe.handle); err != nil {
		return err
	}
	delete(e.pending, instrument)
	delete(e.brackets, pe.handle)
	return nil
}

// Pending lists instruments with submitted, unfilled entries.
func (e *Engine) Pending() []string {
	out := make([]string, 0, len(e.pending))
	for inst := range e.pending {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) journalDecision(ctx context.Context, rec types.DecisionRecord) {
	if e.d.Journal == nil {
		return
	}
	if err := e.d.Journal.RecordDecision(ctx, rec); err != nil {
		logger.ErrorWithErr(ctx, "Failed to journal decision", err, "instrument", rec.InstrumentID)
	}
}

// exposureView treats submitted-but-unfilled entries as held, and reserves
// their cost for longs.
type exposureView struct {
	ledger  *ledger.Ledger
	pending map[string]pendingEntry
}

func (v *exposureView) Has(instrument string) bool {
	if _, ok := v.pending[instrument]; ok {
		return true
	}
	return v.ledger.Has(instrument)
}

func (v *exposureView) TotalEquity() float64 { return v.ledger.TotalEquity() }

func (v *exposureView) Cash() float64 {
	cash := v.ledger.Cash()
	for _, pe := range v.pending {
		if pe.proposal.Side == types.SideLong {
			cash -= pe.proposal.Quantity * pe.proposal.EntryPrice
		}
	}
	return cash
}
