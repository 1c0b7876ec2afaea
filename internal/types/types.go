package types

import (
	"strings"
	"time"
)

// PriceBar is one OHLCV bar for an instrument. Bars are immutable once recorded.
type PriceBar struct {
	InstrumentID string    `json:"instrument_id"`
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
}

type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

// ParseLabel maps a classifier label to a Label. Unknown values are neutral.
func ParseLabel(s string) Label {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case LabelPositive:
		return LabelPositive
	case LabelNegative:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// SentimentSignal is the classifier output for one instrument.
type SentimentSignal struct {
	InstrumentID string    `json:"instrument_id"`
	Timestamp    time.Time `json:"timestamp"`
	Label        Label     `json:"label"`
	Confidence   float64   `json:"confidence"`
	SourceID     string    `json:"source_id"`
}

type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

type TrendState struct {
	InstrumentID string         `json:"instrument_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Direction    TrendDirection `json:"direction"`
}

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// TradeIntent is a confirmed, not yet sized, desire to trade.
type TradeIntent struct {
	InstrumentID string     `json:"instrument_id"`
	Side         Side       `json:"side"`
	Timestamp    time.Time  `json:"timestamp"`
	Confidence   float64    `json:"confidence"`
	Trend        TrendState `json:"supporting_trend"`
	SourceID     string     `json:"source_id"`
}

type EntryType string

const EntryMarket EntryType = "MARKET"

// OrderProposal is a bracket: one entry, one stop-loss, one take-profit.
type OrderProposal struct {
	InstrumentID string    `json:"instrument_id"`
	Side         Side      `json:"side"`
	Quantity     float64   `json:"quantity"`
	EntryType    EntryType `json:"entry_type"`
	EntryPrice   float64   `json:"entry_price"`
	StopPrice    float64   `json:"stop_price"`
	TargetPrice  float64   `json:"target_price"`
	ATR          float64   `json:"atr"`
	Timestamp    time.Time `json:"timestamp"`
}

// Position is an open holding. Quantity is signed: negative for shorts.
type Position struct {
	InstrumentID string    `json:"instrument_id"`
	Side         Side      `json:"side"`
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	StopPrice    float64   `json:"stop_price"`
	TargetPrice  float64   `json:"target_price"`
	OpenedAt     time.Time `json:"opened_at"`
}

type OrderHandle string

type FillKind string

const (
	FillEntry       FillKind = "ENTRY"
	FillStop        FillKind = "STOP"
	FillTarget      FillKind = "TARGET"
	FillLiquidation FillKind = "LIQUIDATION"
)

// IsExit reports whether the fill closes a position.
func (k FillKind) IsExit() bool {
	return k != FillEntry
}

// Fill is an execution reported by an order router.
type Fill struct {
	Handle       OrderHandle `json:"handle"`
	InstrumentID string      `json:"instrument_id"`
	Kind         FillKind    `json:"kind"`
	Side         Side        `json:"side"`
	Quantity     float64     `json:"quantity"`
	Price        float64     `json:"price"`
	Timestamp    time.Time   `json:"timestamp"`
}

type ClosedTrade struct {
	InstrumentID string    `json:"instrument_id"`
	Side         Side      `json:"side"`
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at"`
	Reason       FillKind  `json:"reason"`
	PnL          float64   `json:"pnl"`
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// CycleResult summarises one live evaluation cycle.
type CycleResult struct {
	Signals    int                 `json:"signals"`
	Intents    int                 `json:"intents"`
	Submitted  []OrderHandle       `json:"submitted"`
	Rejections map[string]int      `json:"rejections"`
	Fills      []Fill              `json:"fills"`
	Equity     float64             `json:"equity"`
	Positions  map[string]Position `json:"positions"`
}

// DecisionRecord is the journal entry for one evaluated signal.
type DecisionRecord struct {
	InstrumentID string    `json:"instrument_id"`
	Timestamp    time.Time `json:"timestamp"`
	Label        Label     `json:"label"`
	Confidence   float64   `json:"confidence"`
	SourceID     string    `json:"source_id"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason"`
	Quantity     float64   `json:"quantity,omitempty"`
	EntryPrice   float64   `json:"entry_price,omitempty"`
	StopPrice    float64   `json:"stop_price,omitempty"`
	TargetPrice  float64   `json:"target_price,omitempty"`
}
