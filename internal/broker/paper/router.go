package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/types"
)

// SameBarPolicy decides which leg fills when one bar spans both stop and target.
type SameBarPolicy string

const (
	StopFirst   SameBarPolicy = "STOP_FIRST"
	TargetFirst SameBarPolicy = "TARGET_FIRST"
)

// ParseSameBarPolicy accepts STOP_FIRST or TARGET_FIRST (any case). Empty means STOP_FIRST.
func ParseSameBarPolicy(s string) (SameBarPolicy, bool) {
	switch SameBarPolicy(strings.ToUpper(strings.TrimSpace(s))) {
	case "", StopFirst:
		return StopFirst, true
	case TargetFirst:
		return TargetFirst, true
	}
	return "", false
}

type orderState int

const (
	statePending orderState = iota // entry not filled, cancelable
	stateOpen                      // entry filled, one exit leg will fire
	stateDone                      // exited or canceled
)

type bracket struct {
	handle   types.OrderHandle
	proposal types.OrderProposal
	state    orderState
}

// Router simulates bracket orders in memory. Entry fills happen at the
// proposal's entry price; exits are settled from bars via OnBar at the
// stop or target level.
type Router struct {
	mu        sync.Mutex
	policy    SameBarPolicy
	deferred  bool
	namespace uuid.UUID
	seq       uint64
	orders    map[types.OrderHandle]*bracket
	active    map[string]*bracket // instrument -> pending or open bracket
	pending   []*bracket          // submission order
	callbacks []func(types.Fill)
}

var (
	_ interfaces.OrderRouter = (*Router)(nil)
	_ interfaces.BarObserver = (*Router)(nil)
)

type Option func(*Router)

// WithDeferredFills holds entries pending until FillPending is called.
func WithDeferredFills() Option {
	return func(r *Router) { r.deferred = true }
}

func WithSameBarPolicy(p SameBarPolicy) Option {
	return func(r *Router) { r.policy = p }
}

// WithNamespace seeds handle generation so separate routers produce distinct handles.
func WithNamespace(name string) Option {
	return func(r *Router) { r.namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)) }
}

func NewRouter(opts ...Option) *Router {
	r := &Router{
		policy:    StopFirst,
		namespace: uuid.NewSHA1(uuid.NameSpaceOID, []byte("paper")),
	}
	for _, o := range opts {
		o(r)
	}
	r.Reset()
	return r
}

// Reset forgets all orders and restarts handle numbering. Callbacks are kept.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = 0
	r.orders = make(map[types.OrderHandle]*bracket)
	r.active = make(map[string]*bracket)
	r.pending = nil
}

func (r *Router) OnFill(callback func(types.Fill)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Submit accepts a bracket. Without WithDeferredFills the entry fills before Submit returns.
func (r *Router) Submit(ctx context.Context, order types.OrderProposal) (types.OrderHandle, error) {
	if err := validate(order); err != nil {
		return "", err
	}

	r.mu.Lock()
	if existing := r.active[order.InstrumentID]; existing != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: bracket %s already active for %s", types.ErrRouterFailure, existing.handle, order.InstrumentID)
	}

	r.seq++
	handle := types.OrderHandle(uuid.NewSHA1(r.namespace,
		[]byte(fmt.Sprintf("%d|%s|%s", r.seq, order.InstrumentID, order.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000")))).String())
	b := &bracket{handle: handle, proposal: order, state: statePending}
	r.orders[handle] = b
	r.active[order.InstrumentID] = b

	var fills []types.Fill
	if r.deferred {
		r.pending = append(r.pending, b)
	} else {
		fills = append(fills, r.fillEntryLocked(b, order))
	}
	callbacks := r.callbacks
	r.mu.Unlock()

	logger.Debug(ctx, "Paper bracket accepted",
		"handle", string(handle),
		"instrument", order.InstrumentID,
		"side", string(order.Side),
		"qty", order.Quantity,
		"deferred", r.deferred,
	)
	emit(callbacks, fills)
	return handle, nil
}

// FillPending fills every pending entry, in submission order, at its entry price.
func (r *Router) FillPending(ctx context.Context) []types.Fill {
	r.mu.Lock()
	var fills []types.Fill
	for _, b := range r.pending {
		if b.state != statePending {
			continue
		}
		fills = append(fills, r.fillEntryLocked(b, b.proposal))
	}
	r.pending = nil
	callbacks := r.callbacks
	r.mu.Unlock()

	if len(fills) > 0 {
		logger.Debug(ctx, "Paper pending entries filled", "count", len(fills))
	}
	emit(callbacks, fills)
	return fills
}

// Cancel withdraws a pending bracket. Once the entry has filled the bracket
// can only leave through its stop or target.
func (r *Router) Cancel(ctx context.Context, handle types.OrderHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.orders[handle]
	if b == nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownOrder, handle)
	}
	if b.state != statePending {
		return fmt.Errorf("%w: %s", types.ErrNotCancelable, handle)
	}

	b.state = stateDone
	delete(r.active, b.proposal.InstrumentID)
	logger.Debug(ctx, "Paper bracket canceled", "handle", string(handle), "instrument", b.proposal.InstrumentID)
	return nil
}

// OnBar settles the instrument's open bracket against the bar's range.
// At most one exit fill is produced.
func (r *Router) OnBar(ctx context.Context, bar types.PriceBar) {
	r.mu.Lock()
	b := r.active[bar.InstrumentID]
	if b == nil || b.state != stateOpen {
		r.mu.Unlock()
		return
	}

	p := b.proposal
	var stopHit, targetHit bool
	if p.Side == types.SideLong {
		stopHit = bar.Low <= p.StopPrice
		targetHit = bar.High >= p.TargetPrice
	} else {
		stopHit = bar.High >= p.StopPrice
		targetHit = bar.Low <= p.TargetPrice
	}

	var kind types.FillKind
	var price float64
	switch {
	case stopHit && targetHit && r.policy == TargetFirst:
		kind, price = types.FillTarget, p.TargetPrice
	case stopHit:
		kind, price = types.FillStop, p.StopPrice
	case targetHit:
		kind, price = types.FillTarget, p.TargetPrice
	default:
		r.mu.Unlock()
		return
	}

	fill := r.exitLocked(b, kind, price, bar)
	callbacks := r.callbacks
	r.mu.Unlock()

	logger.Debug(ctx, "Paper bracket exit",
		"handle", string(b.handle),
		"instrument", bar.InstrumentID,
		"kind", string(kind),
		"price", price,
		"both_legs_in_range", stopHit && targetHit,
	)
	emit(callbacks, []types.Fill{fill})
}

// Liquidate closes the instrument's open bracket at price.
func (r *Router) Liquidate(ctx context.Context, bar types.PriceBar) (types.Fill, error) {
	r.mu.Lock()
	b := r.active[bar.InstrumentID]
	if b == nil || b.state != stateOpen {
		r.mu.Unlock()
		return types.Fill{}, fmt.Errorf("%w: %s", types.ErrNoPosition, bar.InstrumentID)
	}
	fill := r.exitLocked(b, types.FillLiquidation, bar.Close, bar)
	callbacks := r.callbacks
	r.mu.Unlock()

	logger.Debug(ctx, "Paper bracket liquidated", "handle", string(b.handle), "instrument", bar.InstrumentID, "price", bar.Close)
	emit(callbacks, []types.Fill{fill})
	return fill, nil
}

// OpenInstruments lists instruments with a filled, unexited bracket, sorted.
func (r *Router) OpenInstruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, b := range r.active {
		if b.state == stateOpen {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Router) fillEntryLocked(b *bracket, p types.OrderProposal) types.Fill {
	b.state = stateOpen
	return types.Fill{
		Handle:       b.handle,
		InstrumentID: p.InstrumentID,
		Kind:         types.FillEntry,
		Side:         p.Side,
		Quantity:     p.Quantity,
		Price:        p.EntryPrice,
		Timestamp:    p.Timestamp,
	}
}

func (r *Router) exitLocked(b *bracket, kind types.FillKind, price float64, bar types.PriceBar) types.Fill {
	b.state = stateDone
	delete(r.active, bar.InstrumentID)
	return types.Fill{
		Handle:       b.handle,
		InstrumentID: bar.InstrumentID,
		Kind:         kind,
		Side:         b.proposal.Side,
		Quantity:     b.proposal.Quantity,
		Price:        price,
		Timestamp:    bar.Timestamp,
	}
}

func emit(callbacks []func(types.Fill), fills []types.Fill) {
	for _, f := range fills {
		for _, cb := range callbacks {
			cb(f)
		}
	}
}

func validate(p types.OrderProposal) error {
	switch {
	case p.InstrumentID == "":
		return fmt.Errorf("%w: missing instrument", types.ErrRouterFailure)
	case p.Side != types.SideLong && p.Side != types.SideShort:
		return fmt.Errorf("%w: %s side %q", types.ErrRouterFailure, p.InstrumentID, p.Side)
	case p.Quantity <= 0:
		return fmt.Errorf("%w: %s quantity %v", types.ErrRouterFailure, p.InstrumentID, p.Quantity)
	case p.EntryPrice <= 0:
		return fmt.Errorf("%w: %s entry %v", types.ErrRouterFailure, p.InstrumentID, p.EntryPrice)
	case p.Side == types.SideLong && !(p.StopPrice < p.EntryPrice && p.EntryPrice < p.TargetPrice):
		return fmt.Errorf("%w: %s long bracket %v/%v/%v", types.ErrRouterFailure, p.InstrumentID, p.StopPrice, p.EntryPrice, p.TargetPrice)
	case p.Side == types.SideShort && !(p.TargetPrice < p.EntryPrice && p.EntryPrice < p.StopPrice):
		return fmt.Errorf("%w: %s short bracket %v/%v/%v", types.ErrRouterFailure, p.InstrumentID, p.StopPrice, p.EntryPrice, p.TargetPrice)
	}
	return nil
}
