package emergency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketgate/internal/platform/kalshi"
	"github.com/alanyoungcy/marketgate/internal/platform/polymarket"
)

type fakeKalshiOrders struct {
	orders    []kalshi.Order
	listErr   error
	failIDs   map[string]bool
	cancelled []string
}

func (f *fakeKalshiOrders) GetOrders(_ context.Context, _ string) ([]kalshi.Order, error) {
	return f.orders, f.listErr
}

func (f *fakeKalshiOrders) CancelOrder(_ context.Context, orderID string) error {
	if f.failIDs[orderID] {
		return errors.New("cancel rejected")
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type fakePolyOrders struct {
	orders       []polymarket.APIOrder
	listErr      error
	cancelAllErr error
	cancelAllRan bool
}

func (f *fakePolyOrders) GetOpenOrders(_ context.Context) ([]polymarket.APIOrder, error) {
	return f.orders, f.listErr
}

func (f *fakePolyOrders) CancelAll(_ context.Context) error {
	f.cancelAllRan = true
	return f.cancelAllErr
}

func TestCancelAllCountsBothVenues(t *testing.T) {
	kc := &fakeKalshiOrders{orders: []kalshi.Order{
		{OrderID: "k1"}, {OrderID: "k2"},
	}}
	pc := &fakePolyOrders{orders: []polymarket.APIOrder{
		{ID: "p1"}, {ID: "p2"}, {ID: "p3"},
	}}

	oc := NewOrderCanceller(kc, pc, testLogger())
	total, err := oc.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.True(t, pc.cancelAllRan)
	assert.ElementsMatch(t, []string{"k1", "k2"}, kc.cancelled)
}

func TestCancelAllIsolatesVenueFailure(t *testing.T) {
	kc := &fakeKalshiOrders{listErr: errors.New("kalshi down")}
	pc := &fakePolyOrders{orders: []polymarket.APIOrder{{ID: "p1"}}}

	oc := NewOrderCanceller(kc, pc, testLogger())
	total, err := oc.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCancelAllSkipsFailedKalshiOrders(t *testing.T) {
	kc := &fakeKalshiOrders{
		orders:  []kalshi.Order{{OrderID: "k1"}, {OrderID: "k2"}, {OrderID: "k3"}},
		failIDs: map[string]bool{"k2": true},
	}

	oc := NewOrderCanceller(kc, nil, testLogger())
	total, err := oc.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestCancelAllPolymarketEmptySkipsCancelAll(t *testing.T) {
	pc := &fakePolyOrders{}

	oc := NewOrderCanceller(nil, pc, testLogger())
	total, err := oc.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.False(t, pc.cancelAllRan)
}

type fakeStream struct{ stops int }

func (s *fakeStream) Stop() { s.stops++ }

func TestStreamRegistryClosesAll(t *testing.T) {
	r := NewStreamRegistry(testLogger())
	s1, s2 := &fakeStream{}, &fakeStream{}
	r.Register("kalshi", s1)
	r.Register("polymarket", s2)

	n, err := r.CloseAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s1.stops)
	assert.Equal(t, 1, s2.stops)

	// Registry empties after close.
	n, err = r.CloseAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStreamRegistryDeregister(t *testing.T) {
	r := NewStreamRegistry(testLogger())
	s := &fakeStream{}
	r.Register("kalshi", s)
	r.Deregister("kalshi")

	n, err := r.CloseAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, s.stops)
}
