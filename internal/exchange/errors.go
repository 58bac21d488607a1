package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an exchange failure for retry and cancel handling.
type ErrorKind int

const (
	KindTransient ErrorKind = iota + 1
	KindPermanent
	KindAlreadyTerminal
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindAlreadyTerminal:
		return "already_terminal"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified failure returned by an exchange client.
type Error struct {
	Kind    ErrorKind
	Code    int64
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange: %s (code=%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewTransient(msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Cause: cause}
}

func NewPermanent(msg string, cause error) *Error {
	return &Error{Kind: KindPermanent, Message: msg, Cause: cause}
}

func kindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return 0
}

// IsTransient reports whether err should be retried.
// Unclassified errors count as transient: network-level failures
// (timeouts, connection resets) reach callers as plain errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch kindOf(err) {
	case KindPermanent, KindAlreadyTerminal, KindNotFound:
		return false
	default:
		return true
	}
}

func IsPermanent(err error) bool { return kindOf(err) == KindPermanent }

// IsAlreadyTerminal reports whether a cancel failed because the order
// already reached a terminal state on the exchange. Callers treat this
// as success.
func IsAlreadyTerminal(err error) bool {
	k := kindOf(err)
	return k == KindAlreadyTerminal || k == KindNotFound
}

func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }
