// Package oco coordinates linked order pairs client-side: on the
// confirmed fill of one leg the other is cancelled. The exchange gives
// no native linked-order guarantee, so a dual-fill race is a known,
// accepted outcome that is recorded distinctly rather than treated as
// a bug.
package oco

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tranche/internal/events"
	"tranche/internal/exchange"
	"tranche/internal/logger"
	"tranche/internal/order"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type State string

const (
	StateActive   State = "ACTIVE"
	StateResolved State = "RESOLVED"
	StateAborted  State = "ABORTED"
)

const (
	OutcomeFilledA  = "leg_a_filled"
	OutcomeFilledB  = "leg_b_filled"
	OutcomeAborted  = "aborted"
	OutcomeDeadPair = "both_legs_terminal"
)

// reconcileInterval paces the event loop's re-read of leg state from
// the store, covering status events lost to a full bus buffer.
const reconcileInterval = 5 * time.Second

// Pair is a linked pair of orders. OrderA is the limit leg, OrderB the
// stop-limit leg when placed through Place; Track accepts any two.
type Pair struct {
	ID         string
	OrderA     string
	OrderB     string
	State      State
	Outcome    string
	DualFill   bool
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// Journal mirrors pair records for audit; failures are logged only.
type Journal interface {
	RecordPair(ctx context.Context, p Pair) error
}

// Spec places a take-profit limit leg and a protective stop-limit leg
// for the same quantity.
type Spec struct {
	Symbol         string
	Side           exchange.Side
	Quantity       decimal.Decimal
	Price          decimal.Decimal // limit leg price
	StopPrice      decimal.Decimal // stop trigger
	StopLimitPrice decimal.Decimal // stop leg resting price
}

type Coordinator struct {
	store          *order.Store
	submitter      *order.Submitter
	bus            *events.Bus
	journal        Journal
	reconcileEvery time.Duration

	mu      sync.Mutex
	pairs   map[string]*Pair
	byOrder map[string]string
}

func NewCoordinator(store *order.Store, submitter *order.Submitter, bus *events.Bus, journal Journal) *Coordinator {
	return &Coordinator{
		store:          store,
		submitter:      submitter,
		bus:            bus,
		journal:        journal,
		reconcileEvery: reconcileInterval,
		pairs:          make(map[string]*Pair),
		byOrder:        make(map[string]string),
	}
}

// Place submits both legs and links them. If the second leg is refused
// the first is cancelled best-effort so the pair never exists half-armed.
func (c *Coordinator) Place(ctx context.Context, spec Spec) (Pair, error) {
	legA, err := c.submitter.Submit(ctx, order.Spec{
		Symbol:   spec.Symbol,
		Side:     spec.Side,
		Kind:     exchange.KindLimit,
		Quantity: spec.Quantity,
		Price:    spec.Price,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("oco: limit leg: %w", err)
	}
	if legA.Status == order.StatusRejected {
		return Pair{}, fmt.Errorf("oco: limit leg rejected: %s", legA.RejectReason)
	}

	legB, err := c.submitter.Submit(ctx, order.Spec{
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Kind:      exchange.KindStopLimit,
		Quantity:  spec.Quantity,
		Price:     spec.StopLimitPrice,
		StopPrice: spec.StopPrice,
	})
	if err != nil || legB.Status == order.StatusRejected {
		if _, cerr := c.submitter.Cancel(ctx, legA.ID); cerr != nil {
			logger.Warnf("oco: rollback cancel of limit leg %s failed: %v", legA.ID, cerr)
		}
		if err != nil {
			return Pair{}, fmt.Errorf("oco: stop leg: %w", err)
		}
		return Pair{}, fmt.Errorf("oco: stop leg rejected: %s", legB.RejectReason)
	}

	return c.Track(legA, legB)
}

// Track links two already-submitted orders into an ACTIVE pair.
func (c *Coordinator) Track(a, b order.Order) (Pair, error) {
	if a.ID == b.ID {
		return Pair{}, fmt.Errorf("oco: legs must be distinct orders")
	}
	if a.Status.Terminal() || b.Status.Terminal() {
		return Pair{}, fmt.Errorf("oco: legs must be live (got %s/%s)", a.Status, b.Status)
	}
	p := &Pair{
		ID:        uuid.NewString(),
		OrderA:    a.ID,
		OrderB:    b.ID,
		State:     StateActive,
		CreatedAt: time.Now(),
	}
	c.mu.Lock()
	c.pairs[p.ID] = p
	c.byOrder[a.ID] = p.ID
	c.byOrder[b.ID] = p.ID
	c.mu.Unlock()

	c.record(*p)
	logger.Infof("oco: tracking pair %s legA=%s legB=%s", p.ID, a.ID, b.ID)
	return *p, nil
}

// Get returns a snapshot of a pair.
func (c *Coordinator) Get(id string) (Pair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairs[id]
	if !ok {
		return Pair{}, false
	}
	return *p, true
}

// Pairs returns a snapshot of all tracked pairs.
func (c *Coordinator) Pairs() []Pair {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		out = append(out, *p)
	}
	return out
}

// Run consumes order status events until ctx is cancelled. A periodic
// reconcile pass re-reads leg state from the store: a dropped event is
// never re-published, so the loop cannot rely on the bus alone.
func (c *Coordinator) Run(ctx context.Context) error {
	ch, cancel := c.bus.Subscribe(256)
	defer cancel()
	ticker := time.NewTicker(c.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Kind != events.KindOrderStatusChanged {
				continue
			}
			c.handleStatusChange(ctx, ev.OrderID, order.Status(ev.NewStatus))
		case <-ticker.C:
			c.reconcile(ctx)
		}
	}
}

// reconcile walks the legs of every ACTIVE pair and feeds any terminal
// status found in the store through the normal transition path. The
// handler is idempotent, so re-observing an already-processed terminal
// leg is harmless.
func (c *Coordinator) reconcile(ctx context.Context) {
	c.mu.Lock()
	var legs []string
	for _, p := range c.pairs {
		if p.State == StateActive {
			legs = append(legs, p.OrderA, p.OrderB)
		}
	}
	c.mu.Unlock()

	for _, id := range legs {
		o, err := c.store.Get(id)
		if err != nil || !o.Status.Terminal() {
			continue
		}
		c.handleStatusChange(ctx, id, o.Status)
	}
}

func (c *Coordinator) handleStatusChange(ctx context.Context, orderID string, status order.Status) {
	if !status.Terminal() {
		return
	}
	c.mu.Lock()
	pairID, ok := c.byOrder[orderID]
	if !ok {
		c.mu.Unlock()
		return
	}
	p := c.pairs[pairID]

	if status == order.StatusFilled {
		switch p.State {
		case StateActive:
			p.State = StateResolved
			p.ResolvedAt = time.Now()
			if orderID == p.OrderA {
				p.Outcome = OutcomeFilledA
			} else {
				p.Outcome = OutcomeFilledB
			}
			sibling := c.siblingOf(p, orderID)
			snapshot := *p
			c.mu.Unlock()
			c.cancelSibling(ctx, snapshot, sibling)
			return
		case StateResolved, StateAborted:
			if !c.filledLegOfOutcome(p, orderID) && !p.DualFill {
				// The cancel lost the race: the sibling filled too.
				// An exchange-level race, not a bug.
				p.DualFill = true
				snapshot := *p
				c.mu.Unlock()
				logger.Warnf("oco: dual fill on pair %s, leg %s filled before cancel landed", snapshot.ID, orderID)
				c.record(snapshot)
				return
			}
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		return
	}

	// A non-fill terminal leg. If the sibling is also dead and nothing
	// filled, the pair can never resolve: close it out.
	if p.State == StateActive {
		sibling := c.siblingOf(p, orderID)
		c.mu.Unlock()
		sib, err := c.store.Get(sibling)
		if err != nil || !sib.Status.Terminal() || sib.Status == order.StatusFilled {
			return
		}
		c.mu.Lock()
		if p.State == StateActive {
			p.State = StateAborted
			p.Outcome = OutcomeDeadPair
			p.ResolvedAt = time.Now()
			snapshot := *p
			c.mu.Unlock()
			logger.Warnf("oco: pair %s closed, both legs terminal without fill", snapshot.ID)
			c.finish(snapshot)
			return
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
}

func (c *Coordinator) cancelSibling(ctx context.Context, p Pair, sibling string) {
	logger.Infof("oco: pair %s resolved (%s), cancelling sibling %s", p.ID, p.Outcome, sibling)
	if _, err := c.submitter.Cancel(ctx, sibling); err != nil {
		if exchange.IsAlreadyTerminal(err) {
			logger.Infof("oco: sibling %s already terminal, treating cancel as done", sibling)
		} else {
			// Best effort: the poller keeps tracking the sibling; a
			// later fill is flagged as a dual fill.
			logger.Errorw("oco: sibling cancel failed", "pair", p.ID, "order", sibling, "err", err)
		}
	}
	c.finish(p)
}

// Abort cancels both legs of an ACTIVE pair on explicit caller request.
// A leg that already filled cannot be un-filled and stays recorded as
// filled.
func (c *Coordinator) Abort(ctx context.Context, pairID string) (Pair, error) {
	c.mu.Lock()
	p, ok := c.pairs[pairID]
	if !ok {
		c.mu.Unlock()
		return Pair{}, fmt.Errorf("oco: pair %s not found", pairID)
	}
	if p.State != StateActive {
		snapshot := *p
		c.mu.Unlock()
		logger.Warnf("oco: abort on %s pair %s (no-op)", snapshot.State, pairID)
		return snapshot, nil
	}
	p.State = StateAborted
	p.Outcome = OutcomeAborted
	p.ResolvedAt = time.Now()
	snapshot := *p
	c.mu.Unlock()

	for _, legID := range []string{snapshot.OrderA, snapshot.OrderB} {
		if _, err := c.submitter.Cancel(ctx, legID); err != nil && !exchange.IsAlreadyTerminal(err) {
			logger.Errorf("oco: abort cancel failed pair=%s order=%s err=%v", pairID, legID, err)
		}
	}
	c.finish(snapshot)
	return snapshot, nil
}

func (c *Coordinator) finish(p Pair) {
	c.record(p)
	c.bus.Publish(events.Event{
		Kind:    events.KindOCOResolved,
		PairID:  p.ID,
		Outcome: p.Outcome,
	})
}

func (c *Coordinator) siblingOf(p *Pair, orderID string) string {
	if orderID == p.OrderA {
		return p.OrderB
	}
	return p.OrderA
}

// filledLegOfOutcome reports whether orderID is the leg whose fill
// resolved the pair.
func (c *Coordinator) filledLegOfOutcome(p *Pair, orderID string) bool {
	switch p.Outcome {
	case OutcomeFilledA:
		return orderID == p.OrderA
	case OutcomeFilledB:
		return orderID == p.OrderB
	default:
		return false
	}
}

func (c *Coordinator) record(p Pair) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.journal.RecordPair(ctx, p); err != nil {
		logger.Warnf("oco: journal write failed pair=%s err=%v", p.ID, err)
	}
}
