package order

import (
	"context"
	"sync"
	"testing"

	"tranche/internal/exchange"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureJournal struct {
	mu     sync.Mutex
	orders []Order
}

func (j *captureJournal) RecordOrder(_ context.Context, o Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders = append(j.orders, o)
	return nil
}

func (j *captureJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.orders)
}

func newTestOrder(id string) Order {
	return Order{
		ID:       id,
		Symbol:   "BTCUSDT",
		Side:     exchange.SideBuy,
		Kind:     exchange.KindLimit,
		Quantity: decimal.NewFromInt(2),
		Price:    decimal.NewFromInt(50000),
		Status:   StatusPending,
	}
}

func TestStorePutAndGet(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))

	o, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", o.ID)
	assert.False(t, o.CreatedAt.IsZero())

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorePutDuplicateID(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))
	assert.Error(t, s.Put(newTestOrder("a")))
}

func TestStoreUpdateStampsUpdatedAtOnStatusChange(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))
	before, _ := s.Get("a")

	updated, err := s.Update("a", func(o *Order) error {
		o.Status = StatusOpen
		o.ExchangeID = "42"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, updated.Status)
	assert.Equal(t, "42", updated.ExchangeID)
	assert.False(t, updated.UpdatedAt.Before(before.UpdatedAt))
}

func TestStoreUpdateRefusesLeavingTerminal(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))
	_, err := s.Update("a", func(o *Order) error {
		o.Status = StatusFilled
		return nil
	})
	require.NoError(t, err)

	got, err := s.Update("a", func(o *Order) error {
		o.Status = StatusCancelled
		return nil
	})
	assert.ErrorIs(t, err, ErrTerminal)
	// the stored order is untouched
	assert.Equal(t, StatusFilled, got.Status)
	cur, _ := s.Get("a")
	assert.Equal(t, StatusFilled, cur.Status)
}

func TestStoreUpdateSameTerminalStatusAllowed(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))
	_, err := s.Update("a", func(o *Order) error {
		o.Status = StatusFilled
		o.FilledQuantity = decimal.NewFromInt(1)
		return nil
	})
	require.NoError(t, err)

	// re-asserting the same terminal status (poller re-observation)
	got, err := s.Update("a", func(o *Order) error {
		o.Status = StatusFilled
		o.FilledQuantity = decimal.NewFromInt(2)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, got.FilledQuantity.Equal(decimal.NewFromInt(2)))
}

func TestStoreUpdatePreservesIdentityFields(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))
	orig, _ := s.Get("a")

	got, err := s.Update("a", func(o *Order) error {
		o.ID = "mangled"
		o.CreatedAt = o.CreatedAt.AddDate(1, 0, 0)
		o.Status = StatusOpen
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, orig.CreatedAt, got.CreatedAt)
}

func TestStoreUpdateClampsOverfill(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))
	got, err := s.Update("a", func(o *Order) error {
		o.FilledQuantity = decimal.NewFromInt(5) // quantity is 2
		return nil
	})
	require.NoError(t, err)
	assert.True(t, got.FilledQuantity.Equal(got.Quantity))
}

func TestStoreOpenFiltersTerminal(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))
	require.NoError(t, s.Put(newTestOrder("b")))
	_, err := s.Update("b", func(o *Order) error {
		o.Status = StatusCancelled
		return nil
	})
	require.NoError(t, err)

	open := s.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "a", open[0].ID)
}

func TestStoreJournalsEveryWrite(t *testing.T) {
	j := &captureJournal{}
	s := NewStore(j)
	require.NoError(t, s.Put(newTestOrder("a")))
	_, err := s.Update("a", func(o *Order) error {
		o.Status = StatusOpen
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, j.len())
}

func TestStoreConcurrentUpdatesSerialize(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Put(newTestOrder("a")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("a", func(o *Order) error {
				o.FilledQuantity = o.FilledQuantity.Add(decimal.NewFromFloat(0.01))
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, got.FilledQuantity.Equal(decimal.NewFromFloat(0.5)),
		"got %s", got.FilledQuantity)
}
