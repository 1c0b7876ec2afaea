package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"news-trend-trader/internal/types"
)

// validate rejects input that would make the replay order ambiguous.
func validate(signals []types.SentimentSignal, bars []types.PriceBar) error {
	last := make(map[string]time.Time)
	for i, b := range bars {
		switch {
		case b.InstrumentID == "":
			return errors.Wrapf(types.ErrMalformedInput, "bar %d: missing instrument", i)
		case b.Timestamp.IsZero():
			return errors.Wrapf(types.ErrMalformedInput, "bar %d (%s): missing timestamp", i, b.InstrumentID)
		case !positive(b.Open, b.High, b.Low, b.Close):
			return errors.Wrapf(types.ErrMalformedInput, "bar %d (%s): non-positive price", i, b.InstrumentID)
		case b.High < b.Low:
			return errors.Wrapf(types.ErrMalformedInput, "bar %d (%s): high %v below low %v", i, b.InstrumentID, b.High, b.Low)
		}
		if prev, ok := last[b.InstrumentID]; ok && b.Timestamp.Before(prev) {
			return errors.Wrapf(types.ErrOutOfOrder, "bar %d (%s): %s before %s", i, b.InstrumentID,
				b.Timestamp.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		last[b.InstrumentID] = b.Timestamp
	}

	var prev time.Time
	for i, s := range signals {
		switch {
		case s.InstrumentID == "":
			return errors.Wrapf(types.ErrMalformedInput, "signal %d: missing instrument", i)
		case s.Timestamp.IsZero():
			return errors.Wrapf(types.ErrMalformedInput, "signal %d (%s): missing timestamp", i, s.InstrumentID)
		case math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1:
			return errors.Wrapf(types.ErrMalformedInput, "signal %d (%s): confidence %v outside [0,1]", i, s.InstrumentID, s.Confidence)
		}
		if i > 0 && s.Timestamp.Before(prev) {
			return errors.Wrapf(types.ErrOutOfOrder, "signal %d (%s): %s before %s", i, s.InstrumentID,
				s.Timestamp.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		prev = s.Timestamp
	}
	return nil
}

func positive(vals ...float64) bool {
	for _, v := range vals {
		if !(v > 0) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type eventKind int

// Bars sort before signals at the same instant.
const (
	barEvent eventKind = iota
	signalEvent
)

type event struct {
	ts    time.Time
	kind  eventKind
	index int
}

// merge orders all events by (timestamp, bars before signals, input order).
func merge(signals []types.SentimentSignal, bars []types.PriceBar) []event {
	events := make([]event, 0, len(signals)+len(bars))
	for i, b := range bars {
		events = append(events, event{ts: b.Timestamp, kind: barEvent, index: i})
	}
	for i, s := range signals {
		events = append(events, event{ts: s.Timestamp, kind: signalEvent, index: i})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].ts.Equal(events[j].ts) {
			return events[i].ts.Before(events[j].ts)
		}
		return events[i].kind < events[j].kind
	})
	return events
}
