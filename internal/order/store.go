package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tranche/internal/logger"
)

var (
	ErrNotFound = errors.New("order: not found")
	// ErrTerminal is returned when an update tries to move an order
	// out of a terminal status.
	ErrTerminal = errors.New("order: already terminal")
)

// Journal receives a write-through copy of every stored order for
// audit. Failures are logged, never propagated: the in-memory store is
// the source of truth.
type Journal interface {
	RecordOrder(ctx context.Context, o Order) error
}

// Store owns all locally known orders. Every mutation goes through
// Update, which serializes concurrent attempts on the same id and
// enforces monotonic status transitions.
type Store struct {
	mu      sync.RWMutex
	orders  map[string]*entry
	journal Journal
	now     func() time.Time
}

type entry struct {
	mu sync.Mutex
	o  Order
}

func NewStore(journal Journal) *Store {
	return &Store{
		orders:  make(map[string]*entry),
		journal: journal,
		now:     time.Now,
	}
}

// Put registers a new order. The id must not already exist.
func (s *Store) Put(o Order) error {
	if o.ID == "" {
		return fmt.Errorf("order: empty id")
	}
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	s.mu.Lock()
	if _, ok := s.orders[o.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("order: duplicate id %s", o.ID)
	}
	s.orders[o.ID] = &entry{o: o}
	s.mu.Unlock()

	s.record(o)
	return nil
}

func (s *Store) Get(id string) (Order, error) {
	s.mu.RLock()
	e, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return Order{}, ErrNotFound
	}
	e.mu.Lock()
	o := e.o
	e.mu.Unlock()
	return o, nil
}

// Update applies transform under the entry lock (atomic
// read-modify-write). A status change stamps UpdatedAt. Transitions out
// of a terminal status are refused with ErrTerminal; the transform's
// other field changes are discarded in that case.
func (s *Store) Update(id string, transform func(*Order) error) (Order, error) {
	s.mu.RLock()
	e, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return Order{}, ErrNotFound
	}

	e.mu.Lock()
	prev := e.o
	next := prev
	if err := transform(&next); err != nil {
		e.mu.Unlock()
		return Order{}, err
	}
	if prev.Status.Terminal() && next.Status != prev.Status {
		e.mu.Unlock()
		return prev, fmt.Errorf("%w: %s is %s", ErrTerminal, id, prev.Status)
	}
	// identity fields are not for transforms to rewrite
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	if next.FilledQuantity.GreaterThan(next.Quantity) {
		logger.Warnf("order: clamping filled %s > quantity %s id=%s", next.FilledQuantity, next.Quantity, id)
		next.FilledQuantity = next.Quantity
	}
	if next.Status != prev.Status {
		next.UpdatedAt = s.now()
	}
	e.o = next
	e.mu.Unlock()

	s.record(next)
	return next, nil
}

// List returns a snapshot of every order matching pred. A nil pred
// matches everything. No ordering is guaranteed.
func (s *Store) List(pred func(Order) bool) []Order {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.orders))
	for _, e := range s.orders {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		o := e.o
		e.mu.Unlock()
		if pred == nil || pred(o) {
			out = append(out, o)
		}
	}
	return out
}

// Open returns every order still in a non-terminal status.
func (s *Store) Open() []Order {
	return s.List(func(o Order) bool { return !o.Status.Terminal() })
}

func (s *Store) record(o Order) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.journal.RecordOrder(ctx, o); err != nil {
		logger.Warnf("order: journal write failed id=%s err=%v", o.ID, err)
	}
}
