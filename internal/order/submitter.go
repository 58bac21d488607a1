package order

import (
	"context"
	"fmt"
	"strings"

	"tranche/internal/exchange"
	"tranche/internal/logger"
	"tranche/internal/retry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationError is a malformed submission, rejected before any
// network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order: invalid %s: %s", e.Field, e.Reason)
}

// Limits are the per-symbol exchange constraints applied locally.
type Limits struct {
	LotSize     decimal.Decimal
	MinQuantity decimal.Decimal
}

// Spec is a single-order request from a caller or a composite engine.
type Spec struct {
	Symbol    string
	Side      exchange.Side
	Kind      exchange.OrderKind
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	StopPrice decimal.Decimal
}

// Submitter validates and submits one atomic order, normalizing the
// outcome into a Store entry. A permanent exchange rejection is a
// legitimate terminal result: the returned order is REJECTED and err
// is nil.
type Submitter struct {
	client exchange.Client
	store  *Store
	policy retry.Policy
	limits func(symbol string) Limits
}

func NewSubmitter(client exchange.Client, store *Store, policy retry.Policy, limits func(symbol string) Limits) *Submitter {
	if limits == nil {
		limits = func(string) Limits { return Limits{} }
	}
	return &Submitter{client: client, store: store, policy: policy, limits: limits}
}

func (s *Submitter) Submit(ctx context.Context, spec Spec) (Order, error) {
	spec.Symbol = strings.ToUpper(strings.TrimSpace(spec.Symbol))
	if err := s.validate(spec); err != nil {
		return Order{}, err
	}

	o := Order{
		ID:        uuid.NewString(),
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Kind:      spec.Kind,
		Quantity:  spec.Quantity,
		Price:     spec.Price,
		StopPrice: spec.StopPrice,
		Status:    StatusPending,
	}
	if err := s.store.Put(o); err != nil {
		return Order{}, err
	}

	var res *exchange.SubmitResult
	err := s.policy.Do(ctx, "submit "+spec.Symbol, func(ctx context.Context) error {
		r, err := s.client.SubmitOrder(ctx, exchange.SubmitRequest{
			ClientOrderID: o.ID,
			Symbol:        spec.Symbol,
			Side:          spec.Side,
			Kind:          spec.Kind,
			Quantity:      spec.Quantity,
			Price:         spec.Price,
			StopPrice:     spec.StopPrice,
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if exchange.IsPermanent(err) {
			// Rejected by the exchange: terminal business outcome, not
			// an error path.
			rejected, uerr := s.store.Update(o.ID, func(ord *Order) error {
				ord.Status = StatusRejected
				ord.RejectReason = err.Error()
				return nil
			})
			if uerr != nil {
				return Order{}, uerr
			}
			logger.Infof("order: rejected id=%s symbol=%s reason=%s", o.ID, spec.Symbol, rejected.RejectReason)
			return rejected, nil
		}
		// Retries exhausted (or cancelled). The submission may still
		// have landed server-side under our client order id; mark the
		// local record rejected with the cause so reconciliation can
		// find it.
		failed, uerr := s.store.Update(o.ID, func(ord *Order) error {
			ord.Status = StatusRejected
			ord.RejectReason = err.Error()
			return nil
		})
		if uerr != nil {
			return Order{}, uerr
		}
		return failed, err
	}

	accepted, err := s.store.Update(o.ID, func(ord *Order) error {
		ord.ExchangeID = res.ExchangeOrderID
		st := FromExchange(res.Status)
		if st == StatusPending {
			st = StatusOpen
		}
		ord.Status = st
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	logger.Infof("order: accepted id=%s exchange_id=%s %s %s %s qty=%s status=%s",
		accepted.ID, accepted.ExchangeID, accepted.Kind, accepted.Side, accepted.Symbol, accepted.Quantity, accepted.Status)
	return accepted, nil
}

// Cancel requests cancellation of a tracked order. Cancelling an order
// that already reached a terminal state is an idempotent no-op.
func (s *Submitter) Cancel(ctx context.Context, id string) (Order, error) {
	o, err := s.store.Get(id)
	if err != nil {
		return Order{}, err
	}
	if o.Status.Terminal() {
		logger.Warnf("order: cancel on terminal order id=%s status=%s (no-op)", id, o.Status)
		return o, nil
	}
	if !o.Accepted() {
		return o, fmt.Errorf("order: %s not yet accepted by exchange", id)
	}
	err = s.policy.Do(ctx, "cancel "+o.Symbol, func(ctx context.Context) error {
		_, err := s.client.CancelOrder(ctx, o.Symbol, o.ExchangeID)
		return err
	})
	if err != nil && !exchange.IsAlreadyTerminal(err) {
		return o, err
	}
	// The poller confirms the final CANCELLED (or FILLED, if the race
	// went the other way) on its next tick.
	logger.Infof("order: cancel requested id=%s exchange_id=%s", o.ID, o.ExchangeID)
	return o, nil
}

func (s *Submitter) validate(spec Spec) error {
	if spec.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	for _, r := range spec.Symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '/' {
			return &ValidationError{Field: "symbol", Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	if !spec.Side.Valid() {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("must be BUY or SELL, got %q", spec.Side)}
	}
	if !spec.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("must be MARKET, LIMIT or STOP_LIMIT, got %q", spec.Kind)}
	}
	if spec.Quantity.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	lim := s.limits(spec.Symbol)
	if lim.MinQuantity.IsPositive() && spec.Quantity.LessThan(lim.MinQuantity) {
		return &ValidationError{Field: "quantity", Reason: fmt.Sprintf("%s below exchange minimum %s", spec.Quantity, lim.MinQuantity)}
	}
	if spec.Kind.RequiresPrice() && spec.Price.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "price", Reason: "required and must be positive for " + string(spec.Kind)}
	}
	if spec.Kind == exchange.KindStopLimit && spec.StopPrice.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "stop_price", Reason: "required and must be positive for STOP_LIMIT"}
	}
	return nil
}
