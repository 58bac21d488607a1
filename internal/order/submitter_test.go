package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tranche/internal/exchange"
	"tranche/internal/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu          sync.Mutex
	submitCalls int
	cancelCalls int
	lastSubmit  exchange.SubmitRequest

	submitFn func(req exchange.SubmitRequest) (*exchange.SubmitResult, error)
	cancelFn func(symbol, exchangeOrderID string) (*exchange.CancelResult, error)
	statusFn func(symbol, exchangeOrderID string) (*exchange.StatusSnapshot, error)
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) SubmitOrder(_ context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error) {
	f.mu.Lock()
	f.submitCalls++
	f.lastSubmit = req
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.SubmitResult{ExchangeOrderID: "1", Status: exchange.StatusNew}, nil
	}
	return fn(req)
}

func (f *fakeClient) CancelOrder(_ context.Context, symbol, exchangeOrderID string) (*exchange.CancelResult, error) {
	f.mu.Lock()
	f.cancelCalls++
	fn := f.cancelFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.CancelResult{Status: exchange.StatusCanceled}, nil
	}
	return fn(symbol, exchangeOrderID)
}

func (f *fakeClient) GetOrderStatus(_ context.Context, symbol, exchangeOrderID string) (*exchange.StatusSnapshot, error) {
	f.mu.Lock()
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.StatusSnapshot{Status: exchange.StatusNew}, nil
	}
	return fn(symbol, exchangeOrderID)
}

func (f *fakeClient) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(50000), nil
}

func (f *fakeClient) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func (f *fakeClient) cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

func fastPolicy(attempts int) retry.Policy {
	return retry.NewPolicy(attempts, time.Millisecond, 2.0)
}

func validSpec() Spec {
	return Spec{
		Symbol:   "BTCUSDT",
		Side:     exchange.SideBuy,
		Kind:     exchange.KindLimit,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(50000),
	}
}

func TestSubmitValidationFailsBeforeNetwork(t *testing.T) {
	client := &fakeClient{}
	s := NewSubmitter(client, NewStore(nil), fastPolicy(3), nil)

	cases := []struct {
		name  string
		spec  Spec
		field string
	}{
		{"empty symbol", Spec{Side: exchange.SideBuy, Kind: exchange.KindMarket, Quantity: decimal.NewFromInt(1)}, "symbol"},
		{"bad symbol chars", Spec{Symbol: "btc-usdt!", Side: exchange.SideBuy, Kind: exchange.KindMarket, Quantity: decimal.NewFromInt(1)}, "symbol"},
		{"bad side", func() Spec { sp := validSpec(); sp.Side = "HOLD"; return sp }(), "side"},
		{"bad kind", func() Spec { sp := validSpec(); sp.Kind = "ICEBERG"; return sp }(), "kind"},
		{"zero quantity", func() Spec { sp := validSpec(); sp.Quantity = decimal.Zero; return sp }(), "quantity"},
		{"limit without price", func() Spec { sp := validSpec(); sp.Price = decimal.Zero; return sp }(), "price"},
		{"stop limit without stop", func() Spec {
			sp := validSpec()
			sp.Kind = exchange.KindStopLimit
			return sp
		}(), "stop_price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), tc.spec)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want validation error, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
	assert.Equal(t, 0, client.submits(), "validation failures must not reach the exchange")
}

func TestSubmitMinQuantityLimit(t *testing.T) {
	client := &fakeClient{}
	limits := func(string) Limits {
		return Limits{MinQuantity: decimal.NewFromFloat(0.01)}
	}
	s := NewSubmitter(client, NewStore(nil), fastPolicy(3), limits)

	sp := validSpec()
	sp.Quantity = decimal.NewFromFloat(0.001)
	_, err := s.Submit(context.Background(), sp)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "quantity", verr.Field)
	assert.Equal(t, 0, client.submits())
}

func TestSubmitSendsLocalIDAsClientOrderID(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(nil)
	s := NewSubmitter(client, store, fastPolicy(3), nil)

	o, err := s.Submit(context.Background(), validSpec())
	require.NoError(t, err)
	assert.Equal(t, o.ID, client.lastSubmit.ClientOrderID)
	assert.Equal(t, StatusOpen, o.Status)
	assert.Equal(t, "1", o.ExchangeID)
}

func TestSubmitPermanentRejectionIsNotAnError(t *testing.T) {
	client := &fakeClient{
		submitFn: func(exchange.SubmitRequest) (*exchange.SubmitResult, error) {
			return nil, exchange.NewPermanent("insufficient balance", nil)
		},
	}
	store := NewStore(nil)
	s := NewSubmitter(client, store, fastPolicy(3), nil)

	o, err := s.Submit(context.Background(), validSpec())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, o.Status)
	assert.Contains(t, o.RejectReason, "insufficient balance")
	assert.Equal(t, 1, client.submits(), "permanent errors must not be retried")

	stored, err := store.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, stored.Status)
}

func TestSubmitTransientTwiceThenSuccess(t *testing.T) {
	calls := 0
	client := &fakeClient{}
	client.submitFn = func(exchange.SubmitRequest) (*exchange.SubmitResult, error) {
		calls++
		if calls < 3 {
			return nil, exchange.NewTransient("rate limited", nil)
		}
		return &exchange.SubmitResult{ExchangeOrderID: "7", Status: exchange.StatusNew}, nil
	}
	s := NewSubmitter(client, NewStore(nil), fastPolicy(3), nil)

	o, err := s.Submit(context.Background(), validSpec())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StatusOpen, o.Status)
	assert.Equal(t, "7", o.ExchangeID)
}

func TestSubmitExhaustionRejectsLocallyAndReturnsError(t *testing.T) {
	client := &fakeClient{
		submitFn: func(exchange.SubmitRequest) (*exchange.SubmitResult, error) {
			return nil, exchange.NewTransient("timeout", nil)
		},
	}
	store := NewStore(nil)
	s := NewSubmitter(client, store, fastPolicy(2), nil)

	o, err := s.Submit(context.Background(), validSpec())
	var ex *retry.ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 2, client.submits())
	assert.Equal(t, StatusRejected, o.Status)

	stored, gerr := store.Get(o.ID)
	require.NoError(t, gerr)
	assert.Equal(t, StatusRejected, stored.Status)
}

func TestSubmitImmediateFill(t *testing.T) {
	client := &fakeClient{
		submitFn: func(exchange.SubmitRequest) (*exchange.SubmitResult, error) {
			return &exchange.SubmitResult{ExchangeOrderID: "9", Status: exchange.StatusFilled}, nil
		},
	}
	s := NewSubmitter(client, NewStore(nil), fastPolicy(3), nil)

	sp := validSpec()
	sp.Kind = exchange.KindMarket
	sp.Price = decimal.Zero
	o, err := s.Submit(context.Background(), sp)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
}

func TestCancelTerminalOrderIsNoOp(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(nil)
	s := NewSubmitter(client, store, fastPolicy(3), nil)

	o, err := s.Submit(context.Background(), validSpec())
	require.NoError(t, err)
	_, err = store.Update(o.ID, func(ord *Order) error {
		ord.Status = StatusFilled
		return nil
	})
	require.NoError(t, err)

	got, err := s.Cancel(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, got.Status)
	assert.Equal(t, 0, client.cancels())
}

func TestCancelUnknownOrder(t *testing.T) {
	s := NewSubmitter(&fakeClient{}, NewStore(nil), fastPolicy(3), nil)
	_, err := s.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelNotYetAccepted(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(nil)
	s := NewSubmitter(client, store, fastPolicy(3), nil)
	require.NoError(t, store.Put(newTestOrder("a"))) // PENDING, no exchange id

	_, err := s.Cancel(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, 0, client.cancels())
}

func TestCancelAlreadyTerminalOnExchangeTreatedAsSuccess(t *testing.T) {
	client := &fakeClient{
		cancelFn: func(string, string) (*exchange.CancelResult, error) {
			return nil, &exchange.Error{Kind: exchange.KindAlreadyTerminal, Code: -2011, Message: "unknown order"}
		},
	}
	store := NewStore(nil)
	s := NewSubmitter(client, store, fastPolicy(3), nil)

	o, err := s.Submit(context.Background(), validSpec())
	require.NoError(t, err)

	_, err = s.Cancel(context.Background(), o.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, client.cancels())
}
