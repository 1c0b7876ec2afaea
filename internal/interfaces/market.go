package interfaces

import (
	"context"
	"time"

	"news-trend-trader/internal/types"
)

// MarketData supplies ordered price bars per instrument.
type MarketData interface {
	// BarsUpTo returns all bars with timestamp <= at, oldest first.
	BarsUpTo(ctx context.Context, instrument string, at time.Time) ([]types.PriceBar, error)

	// BarsBetween returns all bars in (from, to], oldest first.
	BarsBetween(ctx context.Context, instrument string, from, to time.Time) ([]types.PriceBar, error)

	// Latest returns the most recent bar for the instrument.
	Latest(ctx context.Context, instrument string) (types.PriceBar, error)
}

// SignalSource produces sentiment signals that became available since the last poll.
type SignalSource interface {
	Poll(ctx context.Context) ([]types.SentimentSignal, error)
}
