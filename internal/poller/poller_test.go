package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"tranche/internal/events"
	"tranche/internal/exchange"
	"tranche/internal/order"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	statuses map[string]*exchange.StatusSnapshot
	err      error
	queries  int
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) SubmitOrder(context.Context, exchange.SubmitRequest) (*exchange.SubmitResult, error) {
	return nil, nil
}

func (f *fakeClient) CancelOrder(context.Context, string, string) (*exchange.CancelResult, error) {
	return nil, nil
}

func (f *fakeClient) GetOrderStatus(_ context.Context, _ string, exchangeOrderID string) (*exchange.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.statuses[exchangeOrderID]
	if !ok {
		return &exchange.StatusSnapshot{Status: exchange.StatusNew}, nil
	}
	return snap, nil
}

func (f *fakeClient) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func putOpenOrder(t *testing.T, store *order.Store, id, exchangeID string) {
	t.Helper()
	require.NoError(t, store.Put(order.Order{
		ID:         id,
		ExchangeID: exchangeID,
		Symbol:     "BTCUSDT",
		Side:       exchange.SideBuy,
		Kind:       exchange.KindLimit,
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(50000),
		Status:     order.StatusOpen,
	}))
}

func TestPollOncePublishesStatusChange(t *testing.T) {
	store := order.NewStore(nil)
	putOpenOrder(t, store, "a", "100")
	client := &fakeClient{statuses: map[string]*exchange.StatusSnapshot{
		"100": {Status: exchange.StatusFilled, FilledQuantity: decimal.NewFromInt(1)},
	}}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	p := New(store, client, bus, time.Second, 2)
	p.pollOnce(context.Background())

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, got.Status)
	assert.True(t, got.FilledQuantity.Equal(decimal.NewFromInt(1)))

	select {
	case ev := <-ch:
		assert.Equal(t, events.KindOrderStatusChanged, ev.Kind)
		assert.Equal(t, "a", ev.OrderID)
		assert.Equal(t, string(order.StatusOpen), ev.OldStatus)
		assert.Equal(t, string(order.StatusFilled), ev.NewStatus)
	case <-time.After(time.Second):
		t.Fatal("no status change event")
	}
}

func TestPollOnceNoEventWhenUnchanged(t *testing.T) {
	store := order.NewStore(nil)
	putOpenOrder(t, store, "a", "100")
	client := &fakeClient{statuses: map[string]*exchange.StatusSnapshot{
		"100": {Status: exchange.StatusNew},
	}}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	p := New(store, client, bus, time.Second, 2)
	p.pollOnce(context.Background())

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestPollOncePartialFillUpdatesWithoutStatusEvent(t *testing.T) {
	store := order.NewStore(nil)
	putOpenOrder(t, store, "a", "100")
	client := &fakeClient{statuses: map[string]*exchange.StatusSnapshot{
		"100": {Status: exchange.StatusPartiallyFilled, FilledQuantity: decimal.NewFromFloat(0.4)},
	}}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	p := New(store, client, bus, time.Second, 2)
	p.pollOnce(context.Background())

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, got.Status)
	assert.True(t, got.FilledQuantity.Equal(decimal.NewFromFloat(0.4)))

	// PARTIALLY_FILLED maps to OPEN, so the status did not change
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestPollOnceSkipsUnacceptedAndTerminalOrders(t *testing.T) {
	store := order.NewStore(nil)
	require.NoError(t, store.Put(order.Order{
		ID: "pending", Symbol: "BTCUSDT", Side: exchange.SideBuy,
		Kind: exchange.KindMarket, Quantity: decimal.NewFromInt(1),
		Status: order.StatusPending,
	}))
	putOpenOrder(t, store, "done", "200")
	_, err := store.Update("done", func(o *order.Order) error {
		o.Status = order.StatusFilled
		return nil
	})
	require.NoError(t, err)

	client := &fakeClient{}
	p := New(store, client, events.NewBus(), time.Second, 2)
	p.pollOnce(context.Background())
	assert.Equal(t, 0, client.queries)
}

func TestPollOnceQueryFailureLeavesOrderUntouched(t *testing.T) {
	store := order.NewStore(nil)
	putOpenOrder(t, store, "a", "100")
	client := &fakeClient{err: exchange.NewTransient("timeout", nil)}

	p := New(store, client, events.NewBus(), time.Second, 2)
	p.pollOnce(context.Background())

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, got.Status)
}
