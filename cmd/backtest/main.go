package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"news-trend-trader/internal/backtest"
	"news-trend-trader/internal/feed"
	"news-trend-trader/internal/fuser"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/report"
	"news-trend-trader/internal/risk"
	"news-trend-trader/internal/store"
)

func main() {
	// Command-line flags
	configPath := flag.String("config", "config.yaml", "path to config file")
	barsPath := flag.String("bars", "", "bars CSV (overrides backtest.bars_csv)")
	signalsPath := flag.String("signals", "", "signals CSV (overrides backtest.signals_csv)")
	outDir := flag.String("out", "", "report directory (overrides backtest.out_dir)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := store.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *barsPath != "" {
		cfg.Backtest.BarsCSV = *barsPath
	}
	if *signalsPath != "" {
		cfg.Backtest.SignalsCSV = *signalsPath
	}
	if *outDir != "" {
		cfg.Backtest.OutDir = *outDir
	}
	if cfg.Backtest.BarsCSV == "" || cfg.Backtest.SignalsCSV == "" {
		fmt.Println("Error: bars and signals CSVs are required")
		flag.Usage()
		os.Exit(1)
	}

	if err := logger.Init(); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bars, err := feed.LoadBarsFile(cfg.Backtest.BarsCSV)
	if err != nil {
		fmt.Printf("Error loading bars: %v\n", err)
		os.Exit(1)
	}
	signals, err := feed.LoadSignalsFile(cfg.Backtest.SignalsCSV)
	if err != nil {
		fmt.Printf("Error loading signals: %v\n", err)
		os.Exit(1)
	}

	sim := backtest.New(cfg.BacktestConfig(), fuser.New(cfg.FuserConfig()), risk.New(cfg.RiskConfig()))
	res, err := sim.Run(ctx, signals, bars)
	if err != nil {
		fmt.Printf("Backtest failed: %v\n", err)
		os.Exit(1)
	}

	paths, err := report.WriteBacktest(cfg.Backtest.OutDir, res)
	if err != nil {
		fmt.Printf("Error writing reports: %v\n", err)
		os.Exit(1)
	}

	s := res.Stats
	fmt.Println("─────────────────────────────────────────────────────────────────────────────")
	fmt.Printf("Bars: %d  Signals: %d  Intents: %d  Orders: %d  Fills: %d\n", len(bars), s.Signals, s.Intents, s.Orders, s.Fills)
	fmt.Printf("Equity: %.2f -> %.2f  (%.2f%%)\n", s.InitialEquity, s.FinalEquity, s.TotalReturn*100)
	fmt.Printf("Trades: %d  Wins: %d  Losses: %d  Win rate: %.1f%%  Max drawdown: %.2f%%\n",
		s.Trades, s.Wins, s.Losses, s.WinRate*100, s.MaxDrawdown*100)
	if len(res.Open) > 0 {
		fmt.Printf("Open at end: %d position(s)\n", len(res.Open))
	}
	for _, p := range paths {
		fmt.Println("Wrote", p)
	}
}
