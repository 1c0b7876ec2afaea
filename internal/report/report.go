// Package report writes backtest results and daily fill summaries as CSV.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"

	"news-trend-trader/internal/backtest"
	"news-trend-trader/internal/types"
)

type equityRow struct {
	Timestamp string  `csv:"timestamp"`
	Equity    float64 `csv:"equity"`
}

type tradeRow struct {
	InstrumentID string  `csv:"instrument_id"`
	Side         string  `csv:"side"`
	Quantity     float64 `csv:"quantity"`
	EntryPrice   float64 `csv:"entry_price"`
	ExitPrice    float64 `csv:"exit_price"`
	OpenedAt     string  `csv:"opened_at"`
	ClosedAt     string  `csv:"closed_at"`
	Reason       string  `csv:"reason"`
	PnL          float64 `csv:"pnl"`
}

type decisionRow struct {
	InstrumentID string  `csv:"instrument_id"`
	Timestamp    string  `csv:"timestamp"`
	Label        string  `csv:"label"`
	Confidence   float64 `csv:"confidence"`
	SourceID     string  `csv:"source_id"`
	Outcome      string  `csv:"outcome"`
	Reason       string  `csv:"reason"`
	Quantity     float64 `csv:"quantity"`
	StopPrice    float64 `csv:"stop_price"`
	TargetPrice  float64 `csv:"target_price"`
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func WriteEquity(w io.Writer, curve []types.EquityPoint) error {
	rows := make([]*equityRow, 0, len(curve))
	for _, p := range curve {
		rows = append(rows, &equityRow{Timestamp: stamp(p.Timestamp), Equity: p.Equity})
	}
	return gocsv.Marshal(rows, w)
}

func WriteTrades(w io.Writer, trades []types.ClosedTrade) error {
	rows := make([]*tradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, &tradeRow{
			InstrumentID: t.InstrumentID,
			Side:         string(t.Side),
			Quantity:     t.Quantity,
			EntryPrice:   t.EntryPrice,
			ExitPrice:    t.ExitPrice,
			OpenedAt:     stamp(t.OpenedAt),
			ClosedAt:     stamp(t.ClosedAt),
			Reason:       string(t.Reason),
			PnL:          t.PnL,
		})
	}
	return gocsv.Marshal(rows, w)
}

func WriteDecisions(w io.Writer, decisions []types.DecisionRecord) error {
	rows := make([]*decisionRow, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, &decisionRow{
			InstrumentID: d.InstrumentID,
			Timestamp:    stamp(d.Timestamp),
			Label:        string(d.Label),
			Confidence:   d.Confidence,
			SourceID:     d.SourceID,
			Outcome:      d.Outcome,
			Reason:       d.Reason,
			Quantity:     d.Quantity,
			StopPrice:    d.StopPrice,
			TargetPrice:  d.TargetPrice,
		})
	}
	return gocsv.Marshal(rows, w)
}

func WriteStats(w io.Writer, s backtest.Stats) error {
	return gocsv.Marshal([]*backtest.Stats{&s}, w)
}

// WriteBacktest writes equity.csv, trades.csv, decisions.csv and stats.csv into dir.
func WriteBacktest(dir string, res *backtest.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	outputs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"equity.csv", func(w io.Writer) error { return WriteEquity(w, res.Equity) }},
		{"trades.csv", func(w io.Writer) error { return WriteTrades(w, res.ClosedTrades) }},
		{"decisions.csv", func(w io.Writer) error { return WriteDecisions(w, res.Decisions) }},
		{"stats.csv", func(w io.Writer) error { return WriteStats(w, res.Stats) }},
	}

	paths := make([]string, 0, len(outputs))
	for _, o := range outputs {
		p := filepath.Join(dir, o.name)
		if err := writeFile(p, o.write); err != nil {
			return paths, fmt.Errorf("write %s: %w", o.name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeFile(p string, write func(io.Writer) error) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
