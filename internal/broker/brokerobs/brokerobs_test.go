package brokerobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-trend-trader/internal/broker/paper"
	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/types"
)

type stubRouter struct {
	err       error
	submitted int
}

func (s *stubRouter) Submit(context.Context, types.OrderProposal) (types.OrderHandle, error) {
	s.submitted++
	return "h", s.err
}
func (s *stubRouter) OnFill(func(types.Fill)) {}
func (s *stubRouter) Cancel(context.Context, types.OrderHandle) error { return s.err }

func TestWrapPassesThrough(t *testing.T) {
	inner := &stubRouter{}
	r := Wrap(inner)

	h, err := r.Submit(context.Background(), types.OrderProposal{InstrumentID: "INFY"})
	require.NoError(t, err)
	assert.Equal(t, types.OrderHandle("h"), h)
	assert.Equal(t, 1, inner.submitted)

	_, isObserver := r.(interfaces.BarObserver)
	assert.False(t, isObserver)
}

func TestWrapReturnsErrors(t *testing.T) {
	inner := &stubRouter{err: errors.New("down")}
	r := Wrap(inner)

	h, err := r.Submit(context.Background(), types.OrderProposal{InstrumentID: "INFY"})
	assert.Error(t, err)
	assert.Empty(t, h)
	assert.Error(t, r.Cancel(context.Background(), "h"))
}

func TestWrapKeepsBarObserver(t *testing.T) {
	r := Wrap(paper.NewRouter())
	_, isObserver := r.(interfaces.BarObserver)
	assert.True(t, isObserver)
}

type droppingRouter struct {
	stubRouter
	cancels []func(types.OrderHandle)
}

func (d *droppingRouter) OnCancel(cb func(types.OrderHandle)) { d.cancels = append(d.cancels, cb) }

func TestWrapForwardsOnCancel(t *testing.T) {
	inner := &droppingRouter{}
	r := Wrap(inner)

	n, ok := r.(interfaces.CancelNotifier)
	require.True(t, ok)
	var got []types.OrderHandle
	n.OnCancel(func(h types.OrderHandle) { got = append(got, h) })
	require.Len(t, inner.cancels, 1)

	inner.cancels[0]("OID7")
	assert.Equal(t, []types.OrderHandle{"OID7"}, got)

	// a router without the capability is left alone
	Wrap(&stubRouter{}).(interfaces.CancelNotifier).OnCancel(func(types.OrderHandle) { t.Fatal("unexpected") })
}
