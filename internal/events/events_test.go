package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Publish(Event{Kind: KindOrderStatusChanged, OrderID: "a"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, KindOrderStatusChanged, ev.Kind)
			assert.Equal(t, "a", ev.OrderID)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: KindOrderStatusChanged, OrderID: "first"})
	b.Publish(Event{Kind: KindOrderStatusChanged, OrderID: "second"}) // dropped

	ev := <-ch
	assert.Equal(t, "first", ev.OrderID)
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected second event %+v", ev)
		}
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	require.False(t, ok)

	// publishing after unsubscribe must not panic
	b.Publish(Event{Kind: KindOCOResolved, PairID: "p"})
}
