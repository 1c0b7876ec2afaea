package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"news-trend-trader/internal/types"
)

// Ledger is the portfolio: cash, open positions, last known prices and the
// equity curve. One owner mutates it; reads are safe from any goroutine.
//
// Invariant: TotalEquity() == Cash() + Σ position.Quantity × price, where a
// short position carries a negative quantity and its sale proceeds in cash.
type Ledger struct {
	mu          sync.RWMutex
	initialCash float64
	cash        float64
	positions   map[string]*types.Position
	prices      map[string]float64
	history     []types.EquityPoint
	closed      []types.ClosedTrade
}

// Snapshot is a read-only copy of the ledger state.
type Snapshot struct {
	Cash      float64          `json:"cash"`
	Equity    float64          `json:"equity"`
	Positions []types.Position `json:"positions"`
}

func New(initialCash float64) *Ledger {
	l := &Ledger{}
	l.Reset(initialCash)
	return l
}

// Reset clears all state and restores the starting cash.
func (l *Ledger) Reset(initialCash float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.initialCash = initialCash
	l.cash = initialCash
	l.positions = make(map[string]*types.Position)
	l.prices = make(map[string]float64)
	l.history = nil
	l.closed = nil
}

func (l *Ledger) InitialCash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialCash
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

func (l *Ledger) Has(instrument string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[instrument] != nil
}

// Position returns a copy of the open position for the instrument.
func (l *Ledger) Position(instrument string) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p := l.positions[instrument]
	if p == nil {
		return types.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions sorted by instrument.
func (l *Ledger) Positions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []types.Position {
	out := make([]types.Position, 0, len(l.positions))
	for _, id := range l.sortedIDs() {
		out = append(out, *l.positions[id])
	}
	return out
}

// Mark records the latest known price of an instrument.
func (l *Ledger) Mark(instrument string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices[instrument] = price
}

// Price returns the latest marked price.
func (l *Ledger) Price(instrument string) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.prices[instrument]
	return p, ok
}

// TotalEquity sums positions in instrument order so the result is reproducible.
func (l *Ledger) TotalEquity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked()
}

func (l *Ledger) equityLocked() float64 {
	total := l.cash
	for _, id := range l.sortedIDs() {
		p := l.positions[id]
		price, ok := l.prices[id]
		if !ok {
			price = p.EntryPrice
		}
		total += p.Quantity * price
	}
	return total
}

// Open books a new position at its entry price. A long debits cash, a short
// credits it. Quantity is taken as a magnitude and signed by Side.
func (l *Ledger) Open(p types.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.positions[p.InstrumentID] != nil {
		return fmt.Errorf("%w: %s", types.ErrDuplicateExposure, p.InstrumentID)
	}
	if p.Quantity == 0 || p.EntryPrice <= 0 {
		return fmt.Errorf("%w: %s qty=%v entry=%v", types.ErrMalformedInput, p.InstrumentID, p.Quantity, p.EntryPrice)
	}

	p.Quantity = p.Side.Sign() * math.Abs(p.Quantity)
	l.cash -= p.Quantity * p.EntryPrice
	l.positions[p.InstrumentID] = &p
	l.prices[p.InstrumentID] = p.EntryPrice
	return nil
}

// Close settles the whole position at price and records the closed trade.
func (l *Ledger) Close(instrument string, price float64, at time.Time, reason types.FillKind) (types.ClosedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.positions[instrument]
	if p == nil {
		return types.ClosedTrade{}, fmt.Errorf("%w: %s", types.ErrNoPosition, instrument)
	}

	l.cash += p.Quantity * price
	delete(l.positions, instrument)
	l.prices[instrument] = price

	trade := types.ClosedTrade{
		InstrumentID: instrument,
		Side:         p.Side,
		Quantity:     math.Abs(p.Quantity),
		EntryPrice:   p.EntryPrice,
		ExitPrice:    price,
		OpenedAt:     p.OpenedAt,
		ClosedAt:     at,
		Reason:       reason,
		PnL:          p.Quantity * (price - p.EntryPrice),
	}
	l.closed = append(l.closed, trade)
	return trade, nil
}

// RecordEquity appends the current equity at ts. A second record for the same
// timestamp replaces the first; a timestamp earlier than the last point is ignored.
func (l *Ledger) RecordEquity(ts time.Time) types.EquityPoint {
	l.mu.Lock()
	defer l.mu.Unlock()

	pt := types.EquityPoint{Timestamp: ts, Equity: l.equityLocked()}
	if n := len(l.history); n > 0 {
		last := l.history[n-1].Timestamp
		switch {
		case ts.Equal(last):
			l.history[n-1] = pt
			return pt
		case ts.Before(last):
			return pt
		}
	}
	l.history = append(l.history, pt)
	return pt
}

func (l *Ledger) EquityHistory() []types.EquityPoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.EquityPoint, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Ledger) ClosedTrades() []types.ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.ClosedTrade, len(l.closed))
	copy(out, l.closed)
	return out
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Cash:      l.cash,
		Equity:    l.equityLocked(),
		Positions: l.positionsLocked(),
	}
}

func (l *Ledger) sortedIDs() []string {
	ids := make([]string, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
