package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"

	"news-trend-trader/internal/engine"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/report"
	"news-trend-trader/internal/trace"
	"news-trend-trader/internal/types"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	must(err)
	initializeTracing(ctx, cfg)

	b, err := bootstrap(ctx, cfg)
	must(err)

	daily := report.NewDaily(b.files)
	onCycle := func(res *types.CycleResult) {
		if out, err := sonic.Marshal(res); err == nil {
			fmt.Println(string(out))
		}
		if ok, _ := daily.ShouldRun(time.Now()); ok {
			if p, err := daily.SummarizeDay(ctx, time.Now()); err == nil && p != "" {
				b.notifier.Sendf("EOD summary written: %s", p)
			}
		}
	}

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode,
		"universe", cfg.Universe,
		"poll_seconds", cfg.PollSeconds,
		"signals", cfg.Signals.Path,
	)
	b.notifier.Sendf("news-trend-trader started in %s mode", cfg.Mode)

	err = engine.Run(ctx, b.engine, b.source, cfg.PollInterval(), onCycle)
	logger.Info(ctx, "Shutting down...", "reason", err)

	shutdownCtx := context.WithoutCancel(ctx)
	if p, err := daily.SummarizeDay(shutdownCtx, time.Now()); err == nil && p != "" {
		logger.Info(shutdownCtx, "EOD CSV written", "path", p)
	}
	b.shutdown(shutdownCtx)

	if err := trace.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "trace shutdown: %v\n", err)
	}
}
