package engineobs

import (
	"context"
	"time"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/trace"
	"news-trend-trader/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Cycle(ctx context.Context, signals []types.SentimentSignal) (*types.CycleResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Cycle")
	defer span.End()

	start := time.Now()

	logger.InfoSkip(ctx, 1, "Starting evaluation cycle",
		"signals", len(signals),
	)

	result, err := oe.engine.Cycle(ctx, signals)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Evaluation cycle had failures", err,
			"signals", len(signals),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		// the result is still valid: failures are per signal
		if result == nil {
			return nil, err
		}
	}

	logger.InfoSkip(ctx, 1, "Evaluation cycle completed",
		"signals", result.Signals,
		"intents", result.Intents,
		"submitted", len(result.Submitted),
		"fills", len(result.Fills),
		"equity", result.Equity,
		"open_positions", len(result.Positions),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, err
}
