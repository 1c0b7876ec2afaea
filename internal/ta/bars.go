package ta

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/markcheno/go-talib"

	"news-trend-trader/internal/types"
)

// Smoothing selects how true ranges are averaged into an ATR.
type Smoothing string

const (
	SmoothingWilder Smoothing = "WILDER"
	SmoothingSimple Smoothing = "SIMPLE"
)

// ParseSmoothing accepts WILDER or SIMPLE (any case). Empty means WILDER.
func ParseSmoothing(s string) (Smoothing, bool) {
	switch Smoothing(strings.ToUpper(strings.TrimSpace(s))) {
	case "", SmoothingWilder:
		return SmoothingWilder, true
	case SmoothingSimple:
		return SmoothingSimple, true
	}
	return "", false
}

// Upto returns the prefix of time-sorted bars with Timestamp <= at.
func Upto(bars []types.PriceBar, at time.Time) []types.PriceBar {
	n := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp.After(at) })
	return bars[:n]
}

// MovingAverage is the mean close of the last window bars at or before at.
func MovingAverage(bars []types.PriceBar, window int, at time.Time) (float64, error) {
	if window <= 0 {
		return math.NaN(), types.ErrInsufficientData
	}
	visible := Upto(bars, at)
	if len(visible) < window {
		return math.NaN(), types.ErrInsufficientData
	}
	tail := closes(visible[len(visible)-window:])
	if window == 1 {
		return tail[0], nil
	}
	out := talib.Sma(tail, window)
	return out[len(out)-1], nil
}

// Trend compares the fast and slow moving averages at time at.
func Trend(bars []types.PriceBar, fast, slow int, at time.Time) (types.TrendDirection, error) {
	fastMA, err := MovingAverage(bars, fast, at)
	if err != nil {
		return types.TrendFlat, err
	}
	slowMA, err := MovingAverage(bars, slow, at)
	if err != nil {
		return types.TrendFlat, err
	}
	switch {
	case fastMA > slowMA:
		return types.TrendUp, nil
	case fastMA < slowMA:
		return types.TrendDown, nil
	default:
		return types.TrendFlat, nil
	}
}

// TrueRange of cur given the previous close.
func TrueRange(cur types.PriceBar, prevClose float64) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prevClose), math.Abs(cur.Low-prevClose)))
}

// AverageTrueRange needs window+1 bars at or before at, since the first true
// range requires a previous close.
func AverageTrueRange(bars []types.PriceBar, window int, at time.Time, smoothing Smoothing) (float64, error) {
	if window <= 0 {
		return math.NaN(), types.ErrInsufficientData
	}
	visible := Upto(bars, at)
	if len(visible) < window+1 {
		return math.NaN(), types.ErrInsufficientData
	}

	var atr float64
	switch smoothing {
	case SmoothingSimple:
		atr = simpleATR(visible, window)
	default:
		highs, lows, cls := hlc(visible)
		out := talib.Atr(highs, lows, cls, window)
		atr = out[len(out)-1]
	}
	if math.IsNaN(atr) {
		return math.NaN(), types.ErrInsufficientData
	}
	return atr, nil
}

// simpleATR is the plain mean of the last window true ranges.
func simpleATR(bars []types.PriceBar, window int) float64 {
	sum := 0.0
	for i := len(bars) - window; i < len(bars); i++ {
		sum += TrueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(window)
}

func closes(bars []types.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func hlc(bars []types.PriceBar) (highs, lows, cls []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	cls = make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], cls[i] = b.High, b.Low, b.Close
	}
	return
}
