// Package poller refreshes the status of open orders on a fixed
// interval, emulating an event stream over a polling-only exchange
// channel.
package poller

import (
	"context"
	"time"

	"tranche/internal/events"
	"tranche/internal/exchange"
	"tranche/internal/logger"
	"tranche/internal/order"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultConcurrency = 4
	queryTimeout       = 5 * time.Second
)

type Poller struct {
	store       *order.Store
	client      exchange.Client
	bus         *events.Bus
	interval    time.Duration
	concurrency int
}

func New(store *order.Store, client exchange.Client, bus *events.Bus, interval time.Duration, concurrency int) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Poller{
		store:       store,
		client:      client,
		bus:         bus,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Run polls until ctx is cancelled. Per-order failures are logged and
// retried on the next tick; they never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	logger.Infof("poller: started interval=%s concurrency=%d", p.interval, p.concurrency)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("poller: stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce refreshes every accepted non-terminal order. Queries run
// concurrently with a bounded limit so one slow order cannot stall the
// rest of the tick.
func (p *Poller) pollOnce(ctx context.Context) {
	open := p.store.List(func(o order.Order) bool {
		return !o.Status.Terminal() && o.Accepted()
	})
	if len(open) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, o := range open {
		o := o
		g.Go(func() error {
			p.refresh(gctx, o)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) refresh(ctx context.Context, o order.Order) {
	if ctx.Err() != nil {
		return
	}
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	snap, err := p.client.GetOrderStatus(qctx, o.Symbol, o.ExchangeID)
	cancel()
	if err != nil {
		logger.Warnf("poller: status query failed id=%s exchange_id=%s err=%v", o.ID, o.ExchangeID, err)
		return
	}

	newStatus := order.FromExchange(snap.Status)
	changed := newStatus != o.Status || !snap.FilledQuantity.Equal(o.FilledQuantity)
	if !changed {
		return
	}
	updated, err := p.store.Update(o.ID, func(ord *order.Order) error {
		ord.Status = newStatus
		ord.FilledQuantity = snap.FilledQuantity
		return nil
	})
	if err != nil {
		// Lost the race against another writer that already finalized
		// the order. Next tick re-observes.
		logger.Debugf("poller: update skipped id=%s err=%v", o.ID, err)
		return
	}
	if updated.Status != o.Status {
		logger.Infof("poller: order %s %s -> %s filled=%s", o.ID, o.Status, updated.Status, updated.FilledQuantity)
		p.bus.Publish(events.Event{
			Kind:      events.KindOrderStatusChanged,
			OrderID:   o.ID,
			OldStatus: string(o.Status),
			NewStatus: string(updated.Status),
		})
	}
}
