package engine

import "news-trend-trader/internal/interfaces"

var _ interfaces.Engine = (*Engine)(nil)

// New builds a live engine and registers it for the router's fills.
func New(d Deps) *Engine {
	return newEngine(d)
}
