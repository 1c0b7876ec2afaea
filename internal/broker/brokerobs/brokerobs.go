package brokerobs

import (
	"context"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/trace"
	"news-trend-trader/internal/types"
)

// observableRouter wraps an OrderRouter with logging and tracing
type observableRouter struct {
	router interfaces.OrderRouter
}

// observableBarRouter also forwards bars, for routers that settle from them
type observableBarRouter struct {
	observableRouter
	observer interfaces.BarObserver
}

// Compile-time interface checks
var (
	_ interfaces.OrderRouter    = (*observableRouter)(nil)
	_ interfaces.CancelNotifier = (*observableRouter)(nil)
	_ interfaces.BarObserver    = (*observableBarRouter)(nil)
)

// Wrap wraps a router with observability middleware. A router that is also a
// BarObserver stays one.
func Wrap(router interfaces.OrderRouter) interfaces.OrderRouter {
	base := observableRouter{router: router}
	if obs, ok := router.(interfaces.BarObserver); ok {
		return &observableBarRouter{observableRouter: base, observer: obs}
	}
	return &base
}

// Submit places a bracket with observability
func (or *observableRouter) Submit(ctx context.Context, order types.OrderProposal) (types.OrderHandle, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Submit")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Submitting bracket order",
		"instrument", order.InstrumentID,
		"side", string(order.Side),
		"qty", order.Quantity,
		"entry", order.EntryPrice,
		"stop", order.StopPrice,
		"target", order.TargetPrice,
	)

	handle, err := or.router.Submit(ctx, order)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to submit bracket order", err,
			"instrument", order.InstrumentID,
			"side", string(order.Side),
			"qty", order.Quantity,
		)
		return "", err
	}

	logger.InfoSkip(ctx, 1, "Bracket order accepted",
		"instrument", order.InstrumentID,
		"handle", string(handle),
	)
	return handle, nil
}

func (or *observableRouter) OnFill(callback func(types.Fill)) {
	or.router.OnFill(callback)
}

// OnCancel forwards to the wrapped router; routers that never drop entries
// on their own never call back.
func (or *observableRouter) OnCancel(callback func(types.OrderHandle)) {
	if n, ok := or.router.(interfaces.CancelNotifier); ok {
		n.OnCancel(callback)
	}
}

// Cancel withdraws an order with observability
func (or *observableRouter) Cancel(ctx context.Context, handle types.OrderHandle) error {
	ctx, span := trace.StartSpan(ctx, "broker.Cancel")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "handle", string(handle))

	if err := or.router.Cancel(ctx, handle); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "handle", string(handle))
		return err
	}

	logger.InfoSkip(ctx, 1, "Order cancelled", "handle", string(handle))
	return nil
}

func (ob *observableBarRouter) OnBar(ctx context.Context, bar types.PriceBar) {
	logger.DebugSkip(ctx, 1, "Forwarding bar to router",
		"instrument", bar.InstrumentID,
		"timestamp", bar.Timestamp,
		"close", bar.Close,
	)
	ob.observer.OnBar(ctx, bar)
}
