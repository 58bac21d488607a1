// Package events carries status-change notifications between the
// poller and the composite order engines, so OCO/TWAP logic never
// blocks on network I/O directly.
package events

import (
	"sync"
	"time"

	"tranche/internal/logger"
)

type Kind string

const (
	KindOrderStatusChanged Kind = "order.status_changed"
	KindOCOResolved        Kind = "oco.resolved"
	KindTWAPSliceResult    Kind = "twap.slice_result"
	KindTWAPPlanCompleted  Kind = "twap.plan_completed"
)

// Event is a flat notification record. Only the fields relevant to the
// Kind are set.
type Event struct {
	Kind Kind
	At   time.Time

	OrderID   string
	OldStatus string
	NewStatus string

	PairID  string
	Outcome string

	PlanID     string
	SliceIndex int
	Summary    string
}

// Bus fans events out to subscribers. Publish never blocks: a full
// subscriber buffer drops the event for that subscriber with a
// warning. A dropped event is gone for good, so every consumer that
// acts on order status also reconciles against the OrderStore on a
// timer rather than trusting the bus to be lossless.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and an unsubscribe func. The
// channel is closed on unsubscribe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logger.Warnw("events: subscriber buffer full, dropping event", "subscriber", id, "kind", string(ev.Kind))
		}
	}
}
