// Package feed loads bars and sentiment signals from files.
package feed

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"news-trend-trader/internal/types"
)

type barRow struct {
	InstrumentID string  `csv:"instrument_id"`
	Timestamp    string  `csv:"timestamp"`
	Open         float64 `csv:"open"`
	High         float64 `csv:"high"`
	Low          float64 `csv:"low"`
	Close        float64 `csv:"close"`
	Volume       float64 `csv:"volume"`
}

type signalRow struct {
	InstrumentID string  `csv:"instrument_id"`
	Timestamp    string  `csv:"timestamp"`
	Label        string  `csv:"label"`
	Confidence   float64 `csv:"confidence"`
	SourceID     string  `csv:"source_id"`
}

// ParseTime accepts RFC3339 or unix seconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(types.ErrMalformedInput, "timestamp %q", s)
	}
	return t, nil
}

// LoadBars reads bars as CSV. Rows keep file order; ordering is checked by the consumer.
func LoadBars(r io.Reader) ([]types.PriceBar, error) {
	var rows []*barRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "decode bars csv")
	}

	bars := make([]types.PriceBar, 0, len(rows))
	for i, row := range rows {
		ts, err := ParseTime(row.Timestamp)
		if err != nil {
			return nil, errors.Wrapf(err, "bars row %d", i+2)
		}
		bars = append(bars, types.PriceBar{
			InstrumentID: strings.TrimSpace(row.InstrumentID),
			Timestamp:    ts,
			Open:         row.Open,
			High:         row.High,
			Low:          row.Low,
			Close:        row.Close,
			Volume:       row.Volume,
		})
	}
	return bars, nil
}

// LoadSignals reads signals as CSV. Unknown labels become neutral.
func LoadSignals(r io.Reader) ([]types.SentimentSignal, error) {
	var rows []*signalRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "decode signals csv")
	}

	signals := make([]types.SentimentSignal, 0, len(rows))
	for i, row := range rows {
		ts, err := ParseTime(row.Timestamp)
		if err != nil {
			return nil, errors.Wrapf(err, "signals row %d", i+2)
		}
		signals = append(signals, types.SentimentSignal{
			InstrumentID: strings.TrimSpace(row.InstrumentID),
			Timestamp:    ts,
			Label:        types.ParseLabel(row.Label),
			Confidence:   row.Confidence,
			SourceID:     strings.TrimSpace(row.SourceID),
		})
	}
	return signals, nil
}

func LoadBarsFile(path string) ([]types.PriceBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadBars(f)
}

func LoadSignalsFile(path string) ([]types.SentimentSignal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSignals(f)
}
