package report

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/types"
)

var exchangeZone = time.FixedZone("IST", 19800)

// FillReader is satisfied by tradelog.FileJournal.
type FillReader interface {
	Root() string
	ReadFills(t time.Time) ([]types.Fill, error)
}

// InstrumentSummary aggregates one day's fills for an instrument.
// Buy and sell are transaction sides, so a short entry counts as a sell.
type InstrumentSummary struct {
	InstrumentID string  `csv:"instrument_id"`
	Entries      int     `csv:"entries"`
	Exits        int     `csv:"exits"`
	BuyQty       float64 `csv:"buy_qty"`
	BuyAvg       float64 `csv:"buy_avg"`
	SellQty      float64 `csv:"sell_qty"`
	SellAvg      float64 `csv:"sell_avg"`
	RealizedPnL  float64 `csv:"realized_pnl"`
	BuyValue     float64 `csv:"gross_buy_value"`
	SellValue    float64 `csv:"gross_sell_value"`
}

func isBuy(f types.Fill) bool {
	return (f.Side == types.SideLong) != f.Kind.IsExit()
}

// Summarize aggregates fills per instrument, sorted by instrument, with a TOTAL row last.
func Summarize(fills []types.Fill) []*InstrumentSummary {
	aggs := map[string]*InstrumentSummary{}
	for _, f := range fills {
		row := aggs[f.InstrumentID]
		if row == nil {
			row = &InstrumentSummary{InstrumentID: f.InstrumentID}
			aggs[f.InstrumentID] = row
		}
		if f.Kind.IsExit() {
			row.Exits++
		} else {
			row.Entries++
		}
		if isBuy(f) {
			row.BuyQty += f.Quantity
			row.BuyValue += f.Quantity * f.Price
		} else {
			row.SellQty += f.Quantity
			row.SellValue += f.Quantity * f.Price
		}
	}
	if len(aggs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := &InstrumentSummary{InstrumentID: "TOTAL"}
	rows := make([]*InstrumentSummary, 0, len(keys)+1)
	for _, k := range keys {
		r := aggs[k]
		if r.BuyQty > 0 {
			r.BuyAvg = r.BuyValue / r.BuyQty
		}
		if r.SellQty > 0 {
			r.SellAvg = r.SellValue / r.SellQty
		}
		matched := min(r.BuyQty, r.SellQty)
		r.RealizedPnL = matched * (r.SellAvg - r.BuyAvg)

		total.Entries += r.Entries
		total.Exits += r.Exits
		total.RealizedPnL += r.RealizedPnL
		total.BuyValue += r.BuyValue
		total.SellValue += r.SellValue
		rows = append(rows, r)
	}
	return append(rows, total)
}

func WriteSummary(w io.Writer, rows []*InstrumentSummary) error {
	return gocsv.Marshal(rows, w)
}

// Daily writes end-of-day summaries of the fills journal to <root>/eod/YYYY-MM-DD.csv.
type Daily struct {
	journal FillReader
	// close of the exchange session, IST
	cutoffHour, cutoffMinute int
}

func NewDaily(journal FillReader) *Daily {
	return &Daily{journal: journal, cutoffHour: 15, cutoffMinute: 40}
}

func (d *Daily) Path(t time.Time) string {
	return filepath.Join(d.journal.Root(), "eod", t.In(exchangeZone).Format("2006-01-02")+".csv")
}

// SummarizeDay writes the summary for the trading day containing t.
// It returns "" when no fills were journaled that day.
func (d *Daily) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	op := logger.StartOperation(ctx, "report.SummarizeDay", "day", t.In(exchangeZone).Format("2006-01-02"))

	fills, err := d.journal.ReadFills(t)
	if err != nil {
		op.EndWithError(err)
		return "", err
	}
	rows := Summarize(fills)
	if len(rows) == 0 {
		op.End("fills", 0)
		return "", nil
	}

	p := d.Path(t)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		op.EndWithError(err)
		return "", err
	}
	if err := writeFile(p, func(w io.Writer) error { return WriteSummary(w, rows) }); err != nil {
		op.EndWithError(err)
		return "", err
	}

	op.End("fills", len(fills), "path", p)
	logger.Info(ctx, "End-of-day summary written", "path", p, "instruments", len(rows)-1)
	return p, nil
}

// ShouldRun reports whether now is past the session close and the summary is still missing.
func (d *Daily) ShouldRun(now time.Time) (bool, string) {
	local := now.In(exchangeZone)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), d.cutoffHour, d.cutoffMinute, 0, 0, exchangeZone)
	p := d.Path(now)
	if local.After(cutoff) {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return true, p
		}
	}
	return false, p
}
