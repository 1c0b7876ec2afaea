package risk

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/ta"
	"news-trend-trader/internal/types"
)

// Config holds bracket and sizing parameters.
type Config struct {
	MaxAllocation    float64 // hard cap on position value / total equity at opening
	PositionFraction float64 // fraction of equity to commit per trade; 0 means MaxAllocation
	ATRWindow        int
	ATRSmoothing     ta.Smoothing
	KStop            float64
	KTarget          float64
	LotSize          float64            // minimum tradable unit when LotSizes has no entry
	LotSizes         map[string]float64 // per-instrument minimum tradable unit
	TickSize         float64            // 0 disables price rounding
}

func DefaultConfig() Config {
	return Config{
		MaxAllocation: 0.10,
		ATRWindow:     14,
		ATRSmoothing:  ta.SmoothingWilder,
		KStop:         1.5,
		KTarget:       3.0,
		LotSize:       1,
	}
}

// Manager turns confirmed intents into sized bracket proposals.
type Manager struct {
	cfg Config
}

func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

func (m *Manager) Config() Config { return m.cfg }

// Evaluate sizes and brackets an intent.
//
// Steps, in order:
//   - reject with DuplicateExposure if the instrument is already held
//   - ATR at the intent's timestamp, InsufficientData if unavailable
//   - entry = latest close at or before the intent's timestamp
//   - stop/target at KStop/KTarget ATRs from entry, mirrored for shorts
//   - quantity floored to the lot so that qty*entry <= cap*equity
//
// Returns:
//   - proposal: the bracket to submit
//   - err: a *types.Rejection on refusal
func (m *Manager) Evaluate(ctx context.Context, intent types.TradeIntent, bars []types.PriceBar, view interfaces.PortfolioView) (types.OrderProposal, error) {
	inst := intent.InstrumentID

	if view.Has(inst) {
		return m.reject(ctx, types.Reject(types.ErrDuplicateExposure, inst, "position already open"))
	}

	atr, err := ta.AverageTrueRange(bars, m.cfg.ATRWindow, intent.Timestamp, m.cfg.ATRSmoothing)
	if err != nil || atr <= 0 || math.IsNaN(atr) {
		return m.reject(ctx, types.Reject(types.ErrInsufficientData, inst, "atr(%d) unavailable at %s", m.cfg.ATRWindow, intent.Timestamp))
	}

	visible := ta.Upto(bars, intent.Timestamp)
	entry := visible[len(visible)-1].Close
	if entry <= 0 {
		return m.reject(ctx, types.Reject(types.ErrInsufficientData, inst, "no positive close at %s", intent.Timestamp))
	}

	stop, target := m.bracket(intent.Side, entry, atr)
	if (intent.Side == types.SideLong && stop <= 0) || (intent.Side == types.SideShort && target <= 0) {
		return m.reject(ctx, types.Reject(types.ErrInsufficientData, inst,
			"atr %.4f too wide for entry %.4f: stop %.4f target %.4f", atr, entry, stop, target))
	}

	equity := view.TotalEquity()
	budget := m.fraction() * equity
	if intent.Side == types.SideLong {
		budget = math.Min(budget, view.Cash())
	}
	qty := m.size(inst, entry, budget)
	if qty <= 0 {
		return m.reject(ctx, types.Reject(types.ErrAllocationExceeded, inst,
			"budget %.2f of equity %.2f buys no lot at %.4f", budget, equity, entry))
	}

	proposal := types.OrderProposal{
		InstrumentID: inst,
		Side:         intent.Side,
		Quantity:     qty,
		EntryType:    types.EntryMarket,
		EntryPrice:   entry,
		StopPrice:    stop,
		TargetPrice:  target,
		ATR:          atr,
		Timestamp:    intent.Timestamp,
	}

	logger.Debug(ctx, "Order proposal sized",
		"instrument", inst,
		"side", string(intent.Side),
		"qty", qty,
		"entry", entry,
		"stop", stop,
		"target", target,
		"atr", atr,
		"budget", budget,
	)
	return proposal, nil
}

// bracket places stop and target around entry. With a tick size the levels
// are rounded away from entry.
func (m *Manager) bracket(side types.Side, entry, atr float64) (stop, target float64) {
	sign := side.Sign()
	stop = entry - sign*m.cfg.KStop*atr
	target = entry + sign*m.cfg.KTarget*atr

	if m.cfg.TickSize > 0 {
		if side == types.SideLong {
			stop = roundDownToTick(stop, m.cfg.TickSize)
			target = roundUpToTick(target, m.cfg.TickSize)
		} else {
			stop = roundUpToTick(stop, m.cfg.TickSize)
			target = roundDownToTick(target, m.cfg.TickSize)
		}
	}
	return stop, target
}

// fraction is the share of equity one trade may commit.
func (m *Manager) fraction() float64 {
	if m.cfg.PositionFraction > 0 && m.cfg.PositionFraction < m.cfg.MaxAllocation {
		return m.cfg.PositionFraction
	}
	return m.cfg.MaxAllocation
}

func (m *Manager) lot(inst string) float64 {
	if l, ok := m.cfg.LotSizes[inst]; ok && l > 0 {
		return l
	}
	if m.cfg.LotSize > 0 {
		return m.cfg.LotSize
	}
	return 1
}

// size floors budget/entry to whole lots. The product is re-checked in
// float64 so callers comparing qty*entry against the budget never see it exceeded.
func (m *Manager) size(inst string, entry, budget float64) float64 {
	if budget <= 0 || entry <= 0 {
		return 0
	}
	lot := decimal.NewFromFloat(m.lot(inst))
	lots := decimal.NewFromFloat(budget).
		Div(decimal.NewFromFloat(entry)).
		Div(lot).
		Floor()

	qty := lots.Mul(lot).InexactFloat64()
	step := lot.InexactFloat64()
	for qty > 0 && qty*entry > budget {
		lots = lots.Sub(decimal.NewFromInt(1))
		qty = lots.Mul(lot).InexactFloat64()
	}
	if qty < step {
		return 0
	}
	return qty
}

func (m *Manager) reject(ctx context.Context, r *types.Rejection) (types.OrderProposal, error) {
	logger.Risk(ctx, r.InstrumentID, types.ReasonCode(r), "detail", r.Detail)
	return types.OrderProposal{}, r
}

func roundDownToTick(px, tick float64) float64 {
	return math.Floor(px/tick+1e-12) * tick
}

func roundUpToTick(px, tick float64) float64 {
	return math.Ceil(px/tick-1e-12) * tick
}
