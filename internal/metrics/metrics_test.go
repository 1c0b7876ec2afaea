package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.Signal("confirmed")
	m.Signal("confirmed")
	m.Rejection("duplicate_exposure")
	m.Order(true)
	m.Order(false)
	m.Fill("ENTRY")
	m.Portfolio(10036, 2)
	m.Cycle(5 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	for _, line := range []string{
		`trader_signals_total{reason="confirmed"} 2`,
		`trader_orders_total{status="failed"} 1`,
		`trader_rejections_total{reason="duplicate_exposure"} 1`,
		`trader_equity 10036`,
		`trader_open_positions 2`,
	} {
		assert.True(t, strings.Contains(body, line), "missing %q", line)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Signal("x")
		m.Rejection("x")
		m.Order(true)
		m.Fill("STOP")
		m.Portfolio(1, 1)
		m.Cycle(time.Second)
	})
}
