package backtest

import (
	"context"
	"fmt"
	"time"

	"news-trend-trader/internal/broker/paper"
	"news-trend-trader/internal/fuser"
	"news-trend-trader/internal/ledger"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/market"
	"news-trend-trader/internal/risk"
	"news-trend-trader/internal/types"
)

// Decision outcomes recorded per signal.
const (
	OutcomeSubmitted = "submitted"
	OutcomeNoIntent  = "no_intent"
	OutcomeRejected  = "rejected"
)

type Config struct {
	InitialCash    float64
	SameBarPolicy  paper.SameBarPolicy
	LiquidateAtEnd bool // close open positions at the last known close when the replay ends
}

// Result is the full record of one replay.
type Result struct {
	Fills        []types.Fill           `json:"fills"`
	ClosedTrades []types.ClosedTrade    `json:"closed_trades"`
	Equity       []types.EquityPoint    `json:"equity"`
	Decisions    []types.DecisionRecord `json:"decisions"`
	Rejections   map[string]int         `json:"rejections"`
	Open         []types.Position       `json:"open_positions"`
	Stats        Stats                  `json:"stats"`
}

// Simulator replays historical signals and bars through the fuser, the risk
// manager and a paper router. It is single-threaded; Run must not be called
// concurrently on the same Simulator.
type Simulator struct {
	cfg    Config
	fuser  *fuser.Fuser
	risk   *risk.Manager
	ledger *ledger.Ledger
}

func New(cfg Config, f *fuser.Fuser, r *risk.Manager) *Simulator {
	if cfg.SameBarPolicy == "" {
		cfg.SameBarPolicy = paper.StopFirst
	}
	return &Simulator{
		cfg:    cfg,
		fuser:  f,
		risk:   r,
		ledger: ledger.New(cfg.InitialCash),
	}
}

// Ledger exposes the ledger of the most recent run.
func (s *Simulator) Ledger() *ledger.Ledger { return s.ledger }

// run holds the per-replay state shared with the fill callback.
type run struct {
	ledger    *ledger.Ledger
	proposals map[string]types.OrderProposal // instrument -> bracket awaiting its entry fill
	fills     []types.Fill
	err       error
}

func (r *run) apply(f types.Fill) {
	if r.err != nil {
		return
	}
	r.fills = append(r.fills, f)
	if f.Kind == types.FillEntry {
		p := r.proposals[f.InstrumentID]
		delete(r.proposals, f.InstrumentID)
		r.err = r.ledger.Open(types.Position{
			InstrumentID: f.InstrumentID,
			Side:         f.Side,
			Quantity:     f.Quantity,
			EntryPrice:   f.Price,
			StopPrice:    p.StopPrice,
			TargetPrice:  p.TargetPrice,
			OpenedAt:     f.Timestamp,
		})
		return
	}
	_, r.err = r.ledger.Close(f.InstrumentID, f.Price, f.Timestamp, f.Kind)
}

// Run replays the inputs. Identical inputs produce identical results.
// Malformed or out-of-order input fails the whole run.
func (s *Simulator) Run(ctx context.Context, signals []types.SentimentSignal, bars []types.PriceBar) (*Result, error) {
	if err := validate(signals, bars); err != nil {
		return nil, err
	}

	s.ledger.Reset(s.cfg.InitialCash)
	store := market.NewBarStore(0)
	router := paper.NewRouter(paper.WithSameBarPolicy(s.cfg.SameBarPolicy), paper.WithNamespace("backtest"))
	state := &run{ledger: s.ledger, proposals: make(map[string]types.OrderProposal)}
	router.OnFill(state.apply)

	res := &Result{Rejections: make(map[string]int)}
	stats := Stats{InitialEquity: s.cfg.InitialCash}

	events := merge(signals, bars)
	var now time.Time
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now = ev.ts

		switch ev.kind {
		case barEvent:
			bar := bars[ev.index]
			if err := store.Append(bar); err != nil {
				return nil, err
			}
			router.OnBar(ctx, bar)
			s.ledger.Mark(bar.InstrumentID, bar.Close)

		case signalEvent:
			sig := signals[ev.index]
			stats.Signals++
			d := s.evaluate(ctx, store, router, state, sig, &stats)
			if d.Outcome != OutcomeSubmitted {
				res.Rejections[d.Reason]++
			}
			res.Decisions = append(res.Decisions, d)
		}

		if state.err != nil {
			return nil, fmt.Errorf("apply fill at %s: %w", now.Format(time.RFC3339), state.err)
		}
		s.ledger.RecordEquity(now)
	}

	if s.cfg.LiquidateAtEnd && !now.IsZero() {
		for _, inst := range router.OpenInstruments() {
			last, err := store.Latest(ctx, inst)
			if err != nil {
				return nil, err
			}
			last.Timestamp = now
			if _, err := router.Liquidate(ctx, last); err != nil {
				return nil, err
			}
			if state.err != nil {
				return nil, state.err
			}
		}
		s.ledger.RecordEquity(now)
	}

	res.Fills = state.fills
	res.ClosedTrades = s.ledger.ClosedTrades()
	res.Equity = s.ledger.EquityHistory()
	res.Open = s.ledger.Positions()
	stats.FinalEquity = s.ledger.TotalEquity()
	stats.Fills = len(res.Fills)
	stats.fill(res.ClosedTrades, res.Equity)
	res.Stats = stats

	logger.Info(ctx, "Backtest complete",
		"signals", stats.Signals,
		"intents", stats.Intents,
		"orders", stats.Orders,
		"trades", stats.Trades,
		"final_equity", stats.FinalEquity,
		"total_return", stats.TotalReturn,
		"max_drawdown", stats.MaxDrawdown,
	)
	return res, nil
}

func (s *Simulator) evaluate(ctx context.Context, store *market.BarStore, router *paper.Router, state *run, sig types.SentimentSignal, stats *Stats) types.DecisionRecord {
	d := types.DecisionRecord{
		InstrumentID: sig.InstrumentID,
		Timestamp:    sig.Timestamp,
		Label:        sig.Label,
		Confidence:   sig.Confidence,
		SourceID:     sig.SourceID,
	}

	// the store only holds bars already replayed, so nothing after sig.Timestamp is visible
	bars, err := store.BarsUpTo(ctx, sig.InstrumentID, sig.Timestamp)
	if err != nil {
		bars = nil
	}

	intent, reason, ok := s.fuser.Evaluate(sig, bars)
	if !ok {
		d.Outcome, d.Reason = OutcomeNoIntent, reason
		logger.Debug(ctx, "Signal not confirmed", "instrument", sig.InstrumentID, "reason", reason)
		return d
	}
	stats.Intents++

	proposal, err := s.risk.Evaluate(ctx, intent, bars, s.ledger)
	if err != nil {
		d.Outcome, d.Reason = OutcomeRejected, types.ReasonCode(err)
		return d
	}

	state.proposals[proposal.InstrumentID] = proposal
	handle, err := router.Submit(ctx, proposal)
	if err != nil {
		delete(state.proposals, proposal.InstrumentID)
		d.Outcome, d.Reason = OutcomeRejected, types.ReasonCode(err)
		logger.ErrorWithErr(ctx, "Paper submission failed", err, "instrument", sig.InstrumentID)
		return d
	}
	stats.Orders++

	d.Outcome, d.Reason = OutcomeSubmitted, fuser.ReasonConfirmed
	d.Quantity = proposal.Quantity
	d.EntryPrice = proposal.EntryPrice
	d.StopPrice = proposal.StopPrice
	d.TargetPrice = proposal.TargetPrice
	logger.Decision(ctx, sig.InstrumentID, string(intent.Side), sig.Confidence, reason,
		"handle", string(handle),
		"qty", proposal.Quantity,
		"entry", proposal.EntryPrice,
		"stop", proposal.StopPrice,
		"target", proposal.TargetPrice,
	)
	return d
}
