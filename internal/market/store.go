package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"news-trend-trader/internal/ta"
	"news-trend-trader/internal/types"
)

// BarStore keeps per-instrument bar buffers ordered by timestamp.
// It satisfies interfaces.MarketData.
type BarStore struct {
	buffers map[string]*barBuffer
	maxSize int
	mu      sync.RWMutex
}

type barBuffer struct {
	bars []types.PriceBar
}

// NewBarStore creates a store. maxSize bounds each instrument's buffer; 0 keeps everything.
func NewBarStore(maxSize int) *BarStore {
	return &BarStore{
		buffers: make(map[string]*barBuffer),
		maxSize: maxSize,
	}
}

// Append records a bar. Bars must arrive in non-decreasing timestamp order
// per instrument.
func (s *BarStore) Append(bar types.PriceBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffer, exists := s.buffers[bar.InstrumentID]
	if !exists {
		buffer = &barBuffer{}
		s.buffers[bar.InstrumentID] = buffer
	}

	if n := len(buffer.bars); n > 0 && bar.Timestamp.Before(buffer.bars[n-1].Timestamp) {
		return fmt.Errorf("%w: %s bar at %s precedes %s", types.ErrOutOfOrder,
			bar.InstrumentID, bar.Timestamp.Format(time.RFC3339), buffer.bars[n-1].Timestamp.Format(time.RFC3339))
	}

	buffer.bars = append(buffer.bars, bar)

	// Maintain bounded buffer size
	if s.maxSize > 0 && len(buffer.bars) > s.maxSize {
		buffer.bars = buffer.bars[len(buffer.bars)-s.maxSize:]
	}
	return nil
}

// BarsUpTo returns a copy of the bars with timestamp <= at.
func (s *BarStore) BarsUpTo(_ context.Context, instrument string, at time.Time) ([]types.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buffer, exists := s.buffers[instrument]
	if !exists {
		return nil, fmt.Errorf("no bar data for instrument %s", instrument)
	}
	return clone(ta.Upto(buffer.bars, at)), nil
}

// BarsBetween returns a copy of the bars in (from, to].
func (s *BarStore) BarsBetween(_ context.Context, instrument string, from, to time.Time) ([]types.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buffer, exists := s.buffers[instrument]
	if !exists {
		return nil, fmt.Errorf("no bar data for instrument %s", instrument)
	}
	upto := ta.Upto(buffer.bars, to)
	start := sort.Search(len(upto), func(i int) bool { return upto[i].Timestamp.After(from) })
	return clone(upto[start:]), nil
}

// Latest returns the most recent bar for the instrument.
func (s *BarStore) Latest(_ context.Context, instrument string) (types.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buffer, exists := s.buffers[instrument]
	if !exists || len(buffer.bars) == 0 {
		return types.PriceBar{}, fmt.Errorf("no bars available for %s", instrument)
	}
	return buffer.bars[len(buffer.bars)-1], nil
}

// Instruments lists the instruments with at least one bar, sorted.
func (s *BarStore) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.buffers))
	for id, b := range s.buffers {
		if len(b.bars) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Reset drops all bars.
func (s *BarStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = make(map[string]*barBuffer)
}

func clone(bars []types.PriceBar) []types.PriceBar {
	out := make([]types.PriceBar, len(bars))
	copy(out, bars)
	return out
}
