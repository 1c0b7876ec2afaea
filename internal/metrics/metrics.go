package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	signals       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	orders        *prometheus.CounterVec
	fills         *prometheus.CounterVec
	equity        prometheus.Gauge
	openPositions prometheus.Gauge
	cycleDuration prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total", Help: "Sentiment signals evaluated, by fuse outcome",
		}, []string{"reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_rejections_total", Help: "Confirmed intents refused by the risk manager, by reason",
		}, []string{"reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_total", Help: "Bracket submissions, by status",
		}, []string{"status"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fills_total", Help: "Fills applied to the ledger, by kind",
		}, []string{"kind"}),
		equity:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_equity", Help: "Total equity after the last cycle"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_open_positions", Help: "Open positions after the last cycle"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "trader_cycle_duration_seconds", Help: "Wall time of one evaluation cycle",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	m.registry.MustRegister(m.signals, m.rejections, m.orders, m.fills, m.equity, m.openPositions, m.cycleDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Signal(reason string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(reason).Inc()
}

func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Order(ok bool) {
	if m == nil {
		return
	}
	status := "submitted"
	if !ok {
		status = "failed"
	}
	m.orders.WithLabelValues(status).Inc()
}

func (m *Metrics) Fill(kind string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(kind).Inc()
}

func (m *Metrics) Portfolio(equity float64, open int) {
	if m == nil {
		return
	}
	m.equity.Set(equity)
	m.openPositions.Set(float64(open))
}

func (m *Metrics) Cycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}
