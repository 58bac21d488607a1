// Package order owns the local order model and the store that is the
// single writer of order state.
package order

import (
	"time"

	"tranche/internal/exchange"

	"github.com/shopspring/decimal"
)

// Status is the local order lifecycle:
// PENDING -> OPEN -> {FILLED | CANCELLED | REJECTED | EXPIRED}.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// FromExchange maps an exchange-side status onto the local lifecycle.
func FromExchange(s exchange.Status) Status {
	switch s {
	case exchange.StatusNew, exchange.StatusPartiallyFilled:
		return StatusOpen
	case exchange.StatusFilled:
		return StatusFilled
	case exchange.StatusCanceled:
		return StatusCancelled
	case exchange.StatusRejected:
		return StatusRejected
	case exchange.StatusExpired:
		return StatusExpired
	default:
		return StatusOpen
	}
}

// Order is one atomic order as tracked locally. ID is assigned locally
// before the exchange accepts the order and doubles as the client
// order id sent with the submission; ExchangeID arrives on acceptance.
type Order struct {
	ID             string
	ExchangeID     string
	Symbol         string
	Side           exchange.Side
	Kind           exchange.OrderKind
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	StopPrice      decimal.Decimal
	Status         Status
	FilledQuantity decimal.Decimal
	RejectReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Accepted reports whether the exchange has acknowledged the order.
func (o Order) Accepted() bool { return o.ExchangeID != "" }
