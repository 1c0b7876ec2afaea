package interfaces

import (
	"context"

	"news-trend-trader/internal/types"
)

// OrderRouter accepts bracket orders. Implemented by the live broker adapter
// and by the paper router used for backtests and DRY_RUN.
type OrderRouter interface {
	// Submit hands the bracket to the router. A returned error wraps
	// types.ErrRouterFailure and means no order exists.
	Submit(ctx context.Context, order types.OrderProposal) (types.OrderHandle, error)

	// OnFill registers a callback invoked for every entry or exit fill.
	OnFill(callback func(types.Fill))

	// Cancel withdraws an order that has not been filled yet.
	Cancel(ctx context.Context, handle types.OrderHandle) error
}

// BarObserver is implemented by routers that settle brackets themselves
// from price bars (the paper router).
type BarObserver interface {
	OnBar(ctx context.Context, bar types.PriceBar)
}

// CancelNotifier is implemented by routers whose entries can end on the
// broker's side without filling (rejected or cancelled by the exchange).
type CancelNotifier interface {
	OnCancel(callback func(types.OrderHandle))
}
