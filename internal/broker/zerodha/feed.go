package zerodha

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/types"
)

// BarSink receives completed bars; market.BarStore satisfies it.
type BarSink interface {
	Append(bar types.PriceBar) error
}

type historian interface {
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

// building is a bar under construction from ticks.
type building struct {
	bar        types.PriceBar
	baseVolume float64
}

// Feed aggregates Kite ticks into fixed-interval bars.
type Feed struct {
	sink     BarSink
	mapper   *instrumentMapper
	interval time.Duration

	mu      sync.Mutex
	current map[string]*building

	ticker        *kiteticker.Ticker
	orderHandlers []func(kiteconnect.Order)
}

func NewFeed(sink BarSink, tokens map[string]int64, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Feed{
		sink:     sink,
		mapper:   newInstrumentMapper(tokens),
		interval: interval,
		current:  make(map[string]*building),
	}
}

// OnOrderUpdate registers a handler for the ticker's order postbacks.
func (f *Feed) OnOrderUpdate(handler func(kiteconnect.Order)) {
	f.orderHandlers = append(f.orderHandlers, handler)
}

// Start connects the ticker and subscribes to every mapped instrument once connected.
func (f *Feed) Start(ctx context.Context, apiKey, accessToken string) error {
	if len(f.mapper.getAllTokens()) == 0 {
		return fmt.Errorf("no instrument tokens configured")
	}
	f.ticker = kiteticker.New(apiKey, accessToken)

	f.ticker.OnConnect(f.onConnect)
	f.ticker.OnError(f.onError)
	f.ticker.OnClose(f.onClose)
	f.ticker.OnReconnect(f.onReconnect)
	f.ticker.OnNoReconnect(f.onNoReconnect)
	f.ticker.OnTick(f.onTick)
	f.ticker.OnOrderUpdate(f.onOrderUpdate)

	go func() {
		logger.Info(ctx, "Starting Kite ticker", "instruments", len(f.mapper.getAllTokens()))
		f.ticker.Serve()
	}()
	return nil
}

func (f *Feed) Stop(ctx context.Context) {
	if f.ticker != nil {
		logger.Info(ctx, "Stopping Kite ticker")
		f.ticker.Stop()
	}
}

// Backfill loads up to n recent bars per instrument from Kite historical data.
func (f *Feed) Backfill(ctx context.Context, h historian, n int, now time.Time) error {
	interval, span, err := kiteInterval(f.interval)
	if err != nil {
		return err
	}
	from := now.Add(-time.Duration(n) * span)

	for _, token := range f.mapper.getAllTokens() {
		symbol := f.mapper.getSymbol(token)
		candles, err := h.GetHistoricalData(int(token), interval, from, now, false, false)
		if err != nil {
			return fmt.Errorf("historical data for %s: %w", symbol, err)
		}
		for _, c := range candles {
			bar := types.PriceBar{
				InstrumentID: symbol,
				Timestamp:    c.Date.Time.Add(f.interval),
				Open:         c.Open,
				High:         c.High,
				Low:          c.Low,
				Close:        c.Close,
				Volume:       float64(c.Volume),
			}
			if err := f.sink.Append(bar); err != nil {
				logger.Warn(ctx, "Dropping historical bar", "instrument", symbol, "error", err)
			}
		}
		logger.Info(ctx, "Backfilled bars", "instrument", symbol, "count", len(candles))
	}
	return nil
}

// kiteInterval maps a bar interval to Kite's candle name and its duration.
func kiteInterval(d time.Duration) (string, time.Duration, error) {
	switch d {
	case time.Minute:
		return "minute", d, nil
	case 3 * time.Minute:
		return "3minute", d, nil
	case 5 * time.Minute:
		return "5minute", d, nil
	case 10 * time.Minute:
		return "10minute", d, nil
	case 15 * time.Minute:
		return "15minute", d, nil
	case 30 * time.Minute:
		return "30minute", d, nil
	case time.Hour:
		return "60minute", d, nil
	case 24 * time.Hour:
		return "day", d, nil
	}
	return "", 0, fmt.Errorf("no kite candle interval for %s", d)
}

func (f *Feed) onConnect() {
	tokens := f.mapper.getAllTokens()
	ctx := context.Background()
	if err := f.ticker.Subscribe(tokens); err != nil {
		logger.ErrorWithErr(ctx, "Ticker subscribe failed", err)
		return
	}
	if err := f.ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
		logger.ErrorWithErr(ctx, "Ticker set mode failed", err)
		return
	}
	logger.Info(ctx, "Ticker connected", "tokens", len(tokens))
}

func (f *Feed) onError(err error) {
	logger.ErrorWithErr(context.Background(), "Ticker error", err)
}

func (f *Feed) onClose(code int, reason string) {
	logger.Warn(context.Background(), "Ticker closed", "code", code, "reason", reason)
}

func (f *Feed) onReconnect(attempt int, delay time.Duration) {
	logger.Info(context.Background(), "Ticker reconnecting", "attempt", attempt, "delay", delay)
}

func (f *Feed) onNoReconnect(attempt int) {
	logger.Warn(context.Background(), "Ticker gave up reconnecting", "attempt", attempt)
}

func (f *Feed) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order update received", "order_id", order.OrderID, "status", order.Status)
	for _, h := range f.orderHandlers {
		h(order)
	}
}

func (f *Feed) onTick(tick models.Tick) {
	symbol := f.mapper.getSymbol(tick.InstrumentToken)
	if symbol == "" {
		return
	}
	at := tick.Timestamp.Time
	if at.IsZero() {
		at = time.Now()
	}
	f.addTick(symbol, at, tick.LastPrice, float64(tick.VolumeTraded))
}

// addTick folds one trade into the open bar. A tick in a later interval
// closes the open bar and hands it to the sink. Bars are stamped with the
// end of their interval so a bar is never visible before it is complete.
func (f *Feed) addTick(symbol string, at time.Time, price, cumVolume float64) {
	bucket := at.Truncate(f.interval).Add(f.interval)

	f.mu.Lock()
	cur := f.current[symbol]
	var done *types.PriceBar
	switch {
	case cur == nil:
		f.current[symbol] = newBuilding(symbol, bucket, price, cumVolume)
	case bucket.After(cur.bar.Timestamp):
		bar := cur.bar
		done = &bar
		f.current[symbol] = newBuilding(symbol, bucket, price, cumVolume)
	case bucket.Before(cur.bar.Timestamp):
		// late tick for a closed bar
	default:
		cur.bar.High = max(cur.bar.High, price)
		cur.bar.Low = min(cur.bar.Low, price)
		cur.bar.Close = price
		if cumVolume >= cur.baseVolume {
			cur.bar.Volume = cumVolume - cur.baseVolume
		}
	}
	f.mu.Unlock()

	if done != nil {
		if err := f.sink.Append(*done); err != nil {
			logger.Warn(context.Background(), "Dropping bar", "instrument", symbol, "error", err)
		}
	}
}

func newBuilding(symbol string, bucket time.Time, price, cumVolume float64) *building {
	return &building{
		bar: types.PriceBar{
			InstrumentID: symbol,
			Timestamp:    bucket,
			Open:         price,
			High:         price,
			Low:          price,
			Close:        price,
		},
		baseVolume: cumVolume,
	}
}
