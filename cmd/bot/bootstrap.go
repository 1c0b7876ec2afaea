package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"news-trend-trader/internal/broker/brokerobs"
	"news-trend-trader/internal/broker/paper"
	"news-trend-trader/internal/broker/zerodha"
	"news-trend-trader/internal/engine"
	"news-trend-trader/internal/engine/engineobs"
	"news-trend-trader/internal/feed"
	"news-trend-trader/internal/fuser"
	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/ledger"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/market"
	"news-trend-trader/internal/metrics"
	"news-trend-trader/internal/notify"
	"news-trend-trader/internal/risk"
	"news-trend-trader/internal/store"
	"news-trend-trader/internal/trace"
	"news-trend-trader/internal/tradelog"
)

// barBufferSize bounds per-instrument history kept in memory.
const barBufferSize = 2000

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

// bot holds everything main needs to run and shut down.
type bot struct {
	cfg      *store.Config
	engine   interfaces.Engine
	source   interfaces.SignalSource
	journal  interfaces.Journal
	files    *tradelog.FileJournal
	notifier interfaces.Notifier
	metrics  *metrics.Metrics
	feed     *zerodha.Feed
	closers  []func()
}

// initializeSystem initializes the logger; tracing waits for the config
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func initializeTracing(ctx context.Context, cfg *store.Config) {
	if err := trace.Init(cfg.TracingConfig(version)); err != nil {
		logger.ErrorWithErr(ctx, "Failed to initialize tracer", err)
		return
	}
	if trace.Enabled() {
		logger.Info(ctx, "Tracing enabled", "service", cfg.Tracing.ServiceName, "sample_ratio", cfg.Tracing.SampleRatio)
	}
}

func configPath() string {
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig(configPath())
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// initializeJournal opens the file journal, plus Postgres when enabled
func initializeJournal(ctx context.Context, cfg *store.Config) (*tradelog.FileJournal, interfaces.Journal) {
	files := tradelog.NewFileJournal(cfg.Journal.Dir)
	if err := files.CompressOlder(cfg.Journal.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old journal files", "error", err)
	}

	if !cfg.Journal.Postgres {
		return files, files
	}
	dsn := os.Getenv("TRADER_PG_DSN")
	if dsn == "" {
		logger.Warn(ctx, "journal.postgres is set but TRADER_PG_DSN is empty - journaling to files only")
		return files, files
	}
	pg, err := tradelog.NewPGJournal(ctx, dsn)
	if err != nil {
		logger.ErrorWithErr(ctx, "Postgres journal unavailable - journaling to files only", err)
		return files, files
	}
	logger.Info(ctx, "Journaling fills and decisions to Postgres")
	return files, tradelog.Multi(files, pg)
}

// initializeNotifier returns a Telegram notifier when a token and chat are configured
func initializeNotifier(ctx context.Context, cfg *store.Config) (interfaces.Notifier, func()) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" || cfg.Telegram.ChatID == 0 {
		return notify.Nop{}, func() {}
	}
	tg, err := notify.NewTelegram(token, cfg.Telegram.ChatID)
	if err != nil {
		logger.ErrorWithErr(ctx, "Telegram notifier unavailable", err)
		return notify.Nop{}, func() {}
	}
	return tg, tg.Close
}

// serveMetrics exposes /metrics when an address is configured
func serveMetrics(ctx context.Context, cfg *store.Config, m *metrics.Metrics) func() {
	if cfg.Metrics.Addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info(ctx, "Serving metrics", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(ctx, "Metrics server stopped", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

type kiteCredentials struct {
	apiKey, accessToken string
}

func (k kiteCredentials) ok() bool { return k.apiKey != "" && k.accessToken != "" }

// initializeMarket wires the bar store to the Kite ticker, or preloads bars
// from CSV when no credentials are available.
func initializeMarket(ctx context.Context, cfg *store.Config, creds kiteCredentials) (*market.BarStore, *zerodha.Feed, error) {
	bars := market.NewBarStore(barBufferSize)

	if creds.ok() {
		f := zerodha.NewFeed(bars, cfg.Zerodha.InstrumentTokens, time.Duration(cfg.Zerodha.BarSeconds)*time.Second)
		kc := kiteconnect.New(creds.apiKey)
		kc.SetAccessToken(creds.accessToken)
		if err := f.Backfill(ctx, kc, cfg.Zerodha.HistoryBars, time.Now()); err != nil {
			logger.Warn(ctx, "Historical backfill failed - indicators warm up from live ticks", "error", err)
		}
		return bars, f, nil
	}

	if cfg.Mode == "LIVE" {
		return nil, nil, errors.New("LIVE mode needs KITE_API_KEY and KITE_ACCESS_TOKEN")
	}
	if cfg.Backtest.BarsCSV == "" {
		logger.Warn(ctx, "No Kite credentials and no bars CSV - every signal will lack market data")
		return bars, nil, nil
	}

	loaded, err := feed.LoadBarsFile(cfg.Backtest.BarsCSV)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range loaded {
		if err := bars.Append(b); err != nil {
			return nil, nil, err
		}
	}
	logger.Info(ctx, "Preloaded bars from CSV", "path", cfg.Backtest.BarsCSV, "bars", len(loaded))
	return bars, nil, nil
}

// initializeRouter returns the Kite router in LIVE mode and the paper router otherwise
func initializeRouter(ctx context.Context, cfg *store.Config, creds kiteCredentials, f *zerodha.Feed) interfaces.OrderRouter {
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
		policy, _ := paper.ParseSameBarPolicy(cfg.Backtest.SameBarPolicy)
		return brokerobs.Wrap(paper.NewRouter(paper.WithSameBarPolicy(policy)))
	}

	r := zerodha.NewKiteRouter(creds.apiKey, creds.accessToken, zerodha.Params{
		Exchange: cfg.Exchange,
		Product:  cfg.Zerodha.Product,
	})
	f.OnOrderUpdate(r.HandleOrderUpdate)
	return brokerobs.Wrap(r)
}

func bootstrap(ctx context.Context, cfg *store.Config) (*bot, error) {
	creds := kiteCredentials{apiKey: os.Getenv("KITE_API_KEY"), accessToken: os.Getenv("KITE_ACCESS_TOKEN")}

	bars, f, err := initializeMarket(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}

	files, journal := initializeJournal(ctx, cfg)
	notifier, closeNotifier := initializeNotifier(ctx, cfg)
	m := metrics.New()
	stopMetrics := serveMetrics(ctx, cfg, m)

	eng := engine.New(engine.Deps{
		Market:   bars,
		Router:   initializeRouter(ctx, cfg, creds, f),
		Ledger:   ledger.New(cfg.InitialCash),
		Fuser:    fuser.New(cfg.FuserConfig()),
		Risk:     risk.New(cfg.RiskConfig()),
		Journal:  journal,
		Notifier: notifier,
		Metrics:  m,
	})

	if f != nil {
		if err := f.Start(ctx, creds.apiKey, creds.accessToken); err != nil {
			return nil, err
		}
	}

	return &bot{
		cfg:      cfg,
		engine:   engineobs.Wrap(eng),
		source:   feed.NewFileSignalSource(cfg.Signals.Path),
		journal:  journal,
		files:    files,
		notifier: notifier,
		metrics:  m,
		feed:     f,
		closers:  []func(){stopMetrics, closeNotifier},
	}, nil
}

func (b *bot) shutdown(ctx context.Context) {
	if b.feed != nil {
		b.feed.Stop(ctx)
	}
	for _, c := range b.closers {
		c()
	}
	if err := b.journal.Close(); err != nil {
		logger.Warn(ctx, "Journal close failed", "error", err)
	}
}
