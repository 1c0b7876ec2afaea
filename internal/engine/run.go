package engine

import (
	"context"
	"time"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/types"
)

// Run polls the source and runs one cycle per interval until ctx is done.
// Cancellation is observed between cycles only; a started cycle always
// completes so the ledger never sees a partial batch.
func Run(ctx context.Context, eng interfaces.Engine, source interfaces.SignalSource, interval time.Duration, onCycle func(*types.CycleResult)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		cycleCtx := context.WithoutCancel(ctx)

		signals, err := source.Poll(cycleCtx)
		if err != nil {
			logger.ErrorWithErr(ctx, "Signal poll failed", err)
			signals = nil
		}

		res, err := eng.Cycle(cycleCtx, signals)
		if err != nil {
			logger.ErrorWithErr(ctx, "Cycle finished with router failures", err)
		}
		if res != nil && onCycle != nil {
			onCycle(res)
		}

		if ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
				continue
			}
		}
		logger.Info(ctx, "Engine loop stopped", "reason", ctx.Err().Error())
		return ctx.Err()
	}
}
