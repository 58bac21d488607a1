// Package twap splits one logical order into time-spaced child orders
// and aggregates their execution into a single plan result.
package twap

import (
	"fmt"
	"time"

	"tranche/internal/exchange"

	"github.com/shopspring/decimal"
)

type PlanStatus string

const (
	PlanRunning   PlanStatus = "RUNNING"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanAborted   PlanStatus = "ABORTED"
	PlanFailed    PlanStatus = "FAILED"
)

func (s PlanStatus) Terminal() bool { return s != PlanRunning }

type SliceStatus string

const (
	SliceScheduled SliceStatus = "SCHEDULED"
	SliceSubmitted SliceStatus = "SUBMITTED"
	SliceFilled    SliceStatus = "FILLED"
	SliceFailed    SliceStatus = "FAILED"
	SliceSkipped   SliceStatus = "SKIPPED"
)

// Terminal reports whether the slice needs no further tracking.
func (s SliceStatus) Terminal() bool {
	return s == SliceFilled || s == SliceFailed || s == SliceSkipped
}

// Slice is one child order of a plan. OrderID is empty until the slice
// is submitted.
type Slice struct {
	Index       int
	Quantity    decimal.Decimal
	ScheduledAt time.Time
	OrderID     string
	Status      SliceStatus
	Note        string
}

// Plan is a logical order decomposed into slices. The sum of slice
// quantities equals TotalQuantity exactly: earlier slices are rounded
// down to the lot size and the remainder goes to the final slice.
type Plan struct {
	ID            string
	Symbol        string
	Side          exchange.Side
	Kind          exchange.OrderKind
	LimitPrice    decimal.Decimal
	TotalQuantity decimal.Decimal
	Interval      time.Duration
	StartAt       time.Time
	Status        PlanStatus
	Slices        []Slice
	Summary       string
	CreatedAt     time.Time
	FinishedAt    time.Time
}

// Request describes a TWAP order. Either SliceCount or Duration must be
// given: a missing count is derived from Duration / Interval.
type Request struct {
	Symbol        string
	Side          exchange.Side
	TotalQuantity decimal.Decimal
	SliceCount    int
	Interval      time.Duration
	Duration      time.Duration
	// Kind defaults to MARKET; LIMIT runs a limit-style TWAP at
	// LimitPrice.
	Kind       exchange.OrderKind
	LimitPrice decimal.Decimal
	LotSize    decimal.Decimal
}

func (r Request) normalized(defaultInterval time.Duration) (Request, error) {
	if r.Kind == "" {
		r.Kind = exchange.KindMarket
	}
	if r.Kind != exchange.KindMarket && r.Kind != exchange.KindLimit {
		return r, fmt.Errorf("twap: kind must be MARKET or LIMIT, got %q", r.Kind)
	}
	if r.Interval <= 0 {
		r.Interval = defaultInterval
	}
	if r.SliceCount <= 0 {
		if r.Duration <= 0 {
			return r, fmt.Errorf("twap: slice count or duration required")
		}
		r.SliceCount = int(r.Duration / r.Interval)
		if r.SliceCount <= 0 {
			r.SliceCount = 1
		}
	}
	return r, nil
}

// SplitQuantity divides total into n slice quantities. Each of the
// first n-1 slices is total/n rounded down to the lot step; the last
// slice takes the exact remainder so the quantities always sum to
// total.
func SplitQuantity(total decimal.Decimal, n int, lot decimal.Decimal) ([]decimal.Decimal, error) {
	if n <= 0 {
		return nil, fmt.Errorf("twap: slice count must be positive, got %d", n)
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("twap: total quantity must be positive, got %s", total)
	}
	per := total.Div(decimal.NewFromInt(int64(n)))
	if lot.IsPositive() {
		per = per.Div(lot).Floor().Mul(lot)
		if per.IsZero() {
			return nil, fmt.Errorf("twap: total %s too small for %d slices at lot size %s", total, n, lot)
		}
	}
	out := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = per
		sum = sum.Add(per)
	}
	last := total.Sub(sum)
	if last.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("twap: remainder %s not positive, lot rounding overran total", last)
	}
	out[n-1] = last
	return out, nil
}

// buildPlan materializes slices with absolute schedule times
// start + index*interval.
func buildPlan(id string, req Request, start time.Time) (*Plan, error) {
	qtys, err := SplitQuantity(req.TotalQuantity, req.SliceCount, req.LotSize)
	if err != nil {
		return nil, err
	}
	slices := make([]Slice, len(qtys))
	for i, q := range qtys {
		slices[i] = Slice{
			Index:       i,
			Quantity:    q,
			ScheduledAt: start.Add(time.Duration(i) * req.Interval),
			Status:      SliceScheduled,
		}
	}
	return &Plan{
		ID:            id,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Kind:          req.Kind,
		LimitPrice:    req.LimitPrice,
		TotalQuantity: req.TotalQuantity,
		Interval:      req.Interval,
		StartAt:       start,
		Status:        PlanRunning,
		Slices:        slices,
		CreatedAt:     start,
	}, nil
}
