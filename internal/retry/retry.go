// Package retry wraps remote calls with bounded exponential backoff.
// Transient failures are retried; permanent exchange rejections
// propagate immediately.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"tranche/internal/exchange"
	"tranche/internal/logger"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = 30 * time.Second
	DefaultCallTimeout = 10 * time.Second
)

// ExhaustedError reports that every attempt failed with a transient
// error. Last carries the final underlying cause.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Policy drives retries of one remote call. The zero value is not
// usable; construct with NewPolicy or fill every field.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// CallTimeout bounds each individual attempt, independent of the
	// overall attempt budget.
	CallTimeout time.Duration

	// test seams
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func NewPolicy(maxAttempts int, baseDelay time.Duration, multiplier float64) Policy {
	p := Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  multiplier,
		MaxDelay:    DefaultMaxDelay,
		CallTimeout: DefaultCallTimeout,
	}
	return p.normalized()
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = DefaultCallTimeout
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	if p.jitter == nil {
		p.jitter = fullJitterHalf
	}
	return p
}

// Do runs fn until it succeeds, fails permanently, or the attempt
// budget runs out. Each attempt gets its own deadline; the backoff
// sleep respects ctx cancellation.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !exchange.IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = err
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.delayFor(attempt)
		logger.Warnf("retry: %s attempt %d/%d failed, backing off %s: %v", op, attempt, p.MaxAttempts, delay, err)
		if serr := p.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return &ExhaustedError{Op: op, Attempts: p.MaxAttempts, Last: last}
}

// delayFor returns the jittered backoff before attempt+1.
func (p Policy) delayFor(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	delay := time.Duration(d)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return p.jitter(delay)
}

// fullJitterHalf keeps half the delay fixed and randomizes the rest,
// so concurrent retriers spread out without collapsing the backoff.
func fullJitterHalf(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
