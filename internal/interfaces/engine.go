package interfaces

import (
	"context"

	"news-trend-trader/internal/types"
)

type Engine interface {
	Cycle(ctx context.Context, signals []types.SentimentSignal) (*types.CycleResult, error)
}
