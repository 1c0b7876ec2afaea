package backtest

import "news-trend-trader/internal/types"

// Stats summarises a replay.
type Stats struct {
	InitialEquity float64 `json:"initial_equity" csv:"initial_equity"`
	FinalEquity   float64 `json:"final_equity" csv:"final_equity"`
	TotalReturn   float64 `json:"total_return" csv:"total_return"`
	MaxDrawdown   float64 `json:"max_drawdown" csv:"max_drawdown"` // fraction of the running peak
	WinRate       float64 `json:"win_rate" csv:"win_rate"`
	Trades        int     `json:"trades" csv:"trades"`
	Wins          int     `json:"wins" csv:"wins"`
	Losses        int     `json:"losses" csv:"losses"`
	Signals       int     `json:"signals" csv:"signals"`
	Intents       int     `json:"intents" csv:"intents"`
	Orders        int     `json:"orders" csv:"orders"`
	Fills         int     `json:"fills" csv:"fills"`
}

func (s *Stats) fill(trades []types.ClosedTrade, curve []types.EquityPoint) {
	if s.InitialEquity != 0 {
		s.TotalReturn = s.FinalEquity/s.InitialEquity - 1
	}

	s.Trades = len(trades)
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			s.Wins++
		case t.PnL < 0:
			s.Losses++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}

	s.MaxDrawdown = MaxDrawdown(s.InitialEquity, curve)
}

// MaxDrawdown is the largest peak-to-trough fall of the curve, as a fraction of the peak.
func MaxDrawdown(initial float64, curve []types.EquityPoint) float64 {
	peak := initial
	worst := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
