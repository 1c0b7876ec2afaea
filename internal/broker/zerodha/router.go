// Package zerodha routes bracket orders through Kite Connect and builds bars from its ticker.
package zerodha

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/types"
)

const (
	varietyBracket = "bo"

	statusComplete  = "COMPLETE"
	statusCancelled = "CANCELLED"
	statusRejected  = "REJECTED"

	orderTypeSL  = "SL"
	orderTypeSLM = "SL-M"
)

// kite is the part of *kiteconnect.Client the router needs.
type kite interface {
	PlaceOrder(variety string, params kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	CancelOrder(variety string, orderID string, parentOrderID *string) (kiteconnect.OrderResponse, error)
}

type Params struct {
	Exchange string
	Product  string
	Tag      string
}

type legState int

const (
	legPending legState = iota
	legOpen
	legDone
)

type bracket struct {
	proposal types.OrderProposal
	state    legState
}

// Router places one Kite bracket order per proposal. Fills arrive through
// HandleOrderUpdate, which the live feed wires to the ticker's order stream.
type Router struct {
	client kite
	p      Params
	clock  func() time.Time

	mu        sync.Mutex
	brackets  map[string]*bracket
	callbacks []func(types.Fill)
	cancels   []func(types.OrderHandle)
}

var (
	_ interfaces.OrderRouter    = (*Router)(nil)
	_ interfaces.CancelNotifier = (*Router)(nil)
)

func NewRouter(client kite, p Params) *Router {
	if p.Tag == "" {
		p.Tag = "ntt"
	}
	return &Router{
		client:   client,
		p:        p,
		clock:    time.Now,
		brackets: make(map[string]*bracket),
	}
}

// NewKiteRouter builds a Router on an authenticated Kite Connect client.
func NewKiteRouter(apiKey, accessToken string, p Params) *Router {
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return NewRouter(kc, p)
}

func (r *Router) OnFill(callback func(types.Fill)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// OnCancel registers a callback for entries the broker rejected or cancelled.
func (r *Router) OnCancel(callback func(types.OrderHandle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels = append(r.cancels, callback)
}

func (r *Router) Submit(ctx context.Context, order types.OrderProposal) (types.OrderHandle, error) {
	if err := validate(order); err != nil {
		return "", err
	}

	txn := "BUY"
	if order.Side == types.SideShort {
		txn = "SELL"
	}
	params := kiteconnect.OrderParams{
		Exchange:        r.p.Exchange,
		Tradingsymbol:   order.InstrumentID,
		Product:         r.p.Product,
		OrderType:       string(order.EntryType),
		TransactionType: txn,
		Quantity:        int(order.Quantity),
		Validity:        "DAY",
		// bracket legs are offsets from the entry
		Squareoff: math.Abs(order.TargetPrice - order.EntryPrice),
		Stoploss:  math.Abs(order.EntryPrice - order.StopPrice),
		Tag:       r.p.Tag,
	}

	resp, err := r.client.PlaceOrder(varietyBracket, params)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrRouterFailure, order.InstrumentID, err)
	}

	r.mu.Lock()
	r.brackets[resp.OrderID] = &bracket{proposal: order}
	r.mu.Unlock()

	logger.Info(ctx, "Bracket order placed",
		"instrument", order.InstrumentID,
		"order_id", resp.OrderID,
		"side", string(order.Side),
		"qty", order.Quantity,
		"squareoff", params.Squareoff,
		"stoploss", params.Stoploss,
	)
	return types.OrderHandle(resp.OrderID), nil
}

func (r *Router) Cancel(ctx context.Context, handle types.OrderHandle) error {
	r.mu.Lock()
	b, ok := r.brackets[string(handle)]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrUnknownOrder, handle)
	}
	if b.state != legPending {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrNotCancelable, handle)
	}
	r.mu.Unlock()

	if _, err := r.client.CancelOrder(varietyBracket, string(handle), nil); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", types.ErrRouterFailure, handle, err)
	}

	r.mu.Lock()
	b.state = legDone
	r.mu.Unlock()
	logger.Info(ctx, "Bracket order cancelled", "order_id", string(handle), "instrument", b.proposal.InstrumentID)
	return nil
}

// HandleOrderUpdate turns a Kite order update into fills. A completed parent
// is the entry; a completed child leg is the stop or the target. A parent
// that ends rejected or cancelled is reported to OnCancel callbacks.
func (r *Router) HandleOrderUpdate(order kiteconnect.Order) {
	u := r.translate(order)

	r.mu.Lock()
	callbacks := append([]func(types.Fill){}, r.callbacks...)
	cancels := append([]func(types.OrderHandle){}, r.cancels...)
	r.mu.Unlock()

	switch {
	case u.filled:
		for _, cb := range callbacks {
			cb(u.fill)
		}
	case u.dropped:
		for _, cb := range cancels {
			cb(types.OrderHandle(order.OrderID))
		}
	}
}

// update is the outcome of one order postback.
type update struct {
	fill    types.Fill
	filled  bool
	dropped bool
}

func (r *Router) translate(order kiteconnect.Order) update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.brackets[order.OrderID]; ok {
		switch {
		case b.state == legPending && order.Status == statusComplete:
			b.state = legOpen
			return update{fill: r.fill(order.OrderID, b, types.FillEntry, order), filled: true}
		case b.state == legPending && (order.Status == statusCancelled || order.Status == statusRejected):
			b.state = legDone
			logger.Warn(context.Background(), "Bracket entry not filled",
				"order_id", order.OrderID, "status", order.Status, "instrument", b.proposal.InstrumentID)
			return update{dropped: true}
		}
		return update{}
	}

	b, ok := r.brackets[order.ParentOrderID]
	if !ok || b.state != legOpen || order.Status != statusComplete {
		return update{}
	}
	b.state = legDone
	kind := types.FillTarget
	if order.OrderType == orderTypeSL || order.OrderType == orderTypeSLM {
		kind = types.FillStop
	}
	return update{fill: r.fill(order.ParentOrderID, b, kind, order), filled: true}
}

func (r *Router) fill(parent string, b *bracket, kind types.FillKind, order kiteconnect.Order) types.Fill {
	qty := float64(order.FilledQuantity)
	if qty <= 0 {
		qty = b.proposal.Quantity
	}
	price := float64(order.AveragePrice)
	if price <= 0 {
		switch kind {
		case types.FillEntry:
			price = b.proposal.EntryPrice
		case types.FillStop:
			price = b.proposal.StopPrice
		default:
			price = b.proposal.TargetPrice
		}
	}
	return types.Fill{
		Handle:       types.OrderHandle(parent),
		InstrumentID: b.proposal.InstrumentID,
		Kind:         kind,
		Side:         b.proposal.Side,
		Quantity:     qty,
		Price:        price,
		Timestamp:    r.clock(),
	}
}

func validate(p types.OrderProposal) error {
	switch {
	case p.InstrumentID == "":
		return fmt.Errorf("%w: missing instrument", types.ErrRouterFailure)
	case p.Quantity < 1 || p.Quantity != math.Trunc(p.Quantity):
		return fmt.Errorf("%w: %s quantity %v is not a whole number of shares", types.ErrRouterFailure, p.InstrumentID, p.Quantity)
	case p.Side == types.SideLong && !(p.StopPrice < p.EntryPrice && p.EntryPrice < p.TargetPrice):
		return fmt.Errorf("%w: %s long bracket %v/%v/%v", types.ErrRouterFailure, p.InstrumentID, p.StopPrice, p.EntryPrice, p.TargetPrice)
	case p.Side == types.SideShort && !(p.TargetPrice < p.EntryPrice && p.EntryPrice < p.StopPrice):
		return fmt.Errorf("%w: %s short bracket %v/%v/%v", types.ErrRouterFailure, p.InstrumentID, p.StopPrice, p.EntryPrice, p.TargetPrice)
	case p.Side != types.SideLong && p.Side != types.SideShort:
		return fmt.Errorf("%w: %s side %q", types.ErrRouterFailure, p.InstrumentID, p.Side)
	}
	return nil
}
