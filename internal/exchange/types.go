// Package exchange defines the capability surface the execution engine
// needs from a futures exchange. The engine only ever talks to this
// interface; the Binance-backed implementation lives alongside it.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type OrderKind string

const (
	KindMarket    OrderKind = "MARKET"
	KindLimit     OrderKind = "LIMIT"
	KindStopLimit OrderKind = "STOP_LIMIT"
)

func (k OrderKind) Valid() bool {
	return k == KindMarket || k == KindLimit || k == KindStopLimit
}

// RequiresPrice reports whether the kind needs a limit price.
func (k OrderKind) RequiresPrice() bool {
	return k == KindLimit || k == KindStopLimit
}

// Status is the exchange-side order status.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// SubmitRequest is one atomic order sent to the exchange.
// ClientOrderID is the caller-assigned idempotency token: resubmitting
// the same id must not create a second order server-side.
type SubmitRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Kind          OrderKind
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
}

type SubmitResult struct {
	ExchangeOrderID string
	Status          Status
	SubmittedAt     time.Time
}

type CancelResult struct {
	Status Status
}

// StatusSnapshot is one polled observation of an order.
type StatusSnapshot struct {
	Status         Status
	FilledQuantity decimal.Decimal
}

// Client is the minimal exchange capability consumed by the engine.
// Implementations own rate limiting and request signing; callers own
// retries and per-call deadlines via ctx.
type Client interface {
	Name() string

	SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) (*CancelResult, error)

	GetOrderStatus(ctx context.Context, symbol, exchangeOrderID string) (*StatusSnapshot, error)

	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
