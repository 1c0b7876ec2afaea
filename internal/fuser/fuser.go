package fuser

import (
	"news-trend-trader/internal/ta"
	"news-trend-trader/internal/types"
)

// Reason codes reported by Evaluate.
const (
	ReasonNeutral          = "neutral_label"
	ReasonLowConfidence    = "low_confidence"
	ReasonInsufficientData = "insufficient_data"
	ReasonTrendMismatch    = "trend_mismatch"
	ReasonFlatTrend        = "flat_trend"
	ReasonConfirmed        = "confirmed"
)

// Config holds the fusion thresholds.
type Config struct {
	ConfidenceThreshold float64 // minimum classifier confidence, inclusive
	FastWindow          int
	SlowWindow          int
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.85,
		FastWindow:          20,
		SlowWindow:          50,
	}
}

// Fuser confirms sentiment signals against the price trend.
// It holds no state; Evaluate is safe for concurrent use.
type Fuser struct {
	cfg Config
}

func New(cfg Config) *Fuser {
	return &Fuser{cfg: cfg}
}

func (f *Fuser) Config() Config { return f.cfg }

// Fuse returns a TradeIntent when the signal is confirmed by the trend.
func (f *Fuser) Fuse(sig types.SentimentSignal, bars []types.PriceBar) (types.TradeIntent, bool) {
	intent, _, ok := f.Evaluate(sig, bars)
	return intent, ok
}

// Evaluate is Fuse plus the reason for the outcome.
//
// Rules, in order:
//   - neutral label: no intent
//   - confidence below threshold: no intent
//   - trend at the signal's timestamp (bars after it are ignored)
//   - positive needs an up trend, negative a down trend
func (f *Fuser) Evaluate(sig types.SentimentSignal, bars []types.PriceBar) (types.TradeIntent, string, bool) {
	if sig.Label != types.LabelPositive && sig.Label != types.LabelNegative {
		return types.TradeIntent{}, ReasonNeutral, false
	}
	if sig.Confidence < f.cfg.ConfidenceThreshold {
		return types.TradeIntent{}, ReasonLowConfidence, false
	}

	dir, err := ta.Trend(bars, f.cfg.FastWindow, f.cfg.SlowWindow, sig.Timestamp)
	if err != nil {
		// ta only fails for missing history
		return types.TradeIntent{}, ReasonInsufficientData, false
	}

	var side types.Side
	switch {
	case dir == types.TrendFlat:
		return types.TradeIntent{}, ReasonFlatTrend, false
	case sig.Label == types.LabelPositive && dir == types.TrendUp:
		side = types.SideLong
	case sig.Label == types.LabelNegative && dir == types.TrendDown:
		side = types.SideShort
	default:
		return types.TradeIntent{}, ReasonTrendMismatch, false
	}

	return types.TradeIntent{
		InstrumentID: sig.InstrumentID,
		Side:         side,
		Timestamp:    sig.Timestamp,
		Confidence:   sig.Confidence,
		Trend: types.TrendState{
			InstrumentID: sig.InstrumentID,
			Timestamp:    sig.Timestamp,
			Direction:    dir,
		},
		SourceID: sig.SourceID,
	}, ReasonConfirmed, true
}
