package exchange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
)

func TestClassifyBinanceCodes(t *testing.T) {
	cases := []struct {
		code int64
		want ErrorKind
	}{
		{-1003, KindTransient}, // rate limit
		{-1007, KindTransient}, // server timeout
		{-1001, KindTransient}, // disconnected
		{-1016, KindTransient}, // service shutting down
		{-2011, KindAlreadyTerminal},
		{-2013, KindNotFound},
		{-1121, KindPermanent}, // invalid symbol
		{-2019, KindPermanent}, // margin insufficient
	}
	for _, tc := range cases {
		err := classify(&common.APIError{Code: tc.code, Message: "x"})
		var ee *Error
		assert.True(t, errors.As(err, &ee), "code %d", tc.code)
		assert.Equal(t, tc.want, ee.Kind, "code %d", tc.code)
	}
}

func TestClassifyPassesThroughUnstructuredErrors(t *testing.T) {
	cause := fmt.Errorf("read tcp: connection reset")
	err := classify(cause)
	assert.Equal(t, cause, err)
	assert.True(t, IsTransient(err), "network errors must stay retryable")
}

func TestErrorPredicates(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewTransient("x", nil)))
	assert.False(t, IsTransient(NewPermanent("x", nil)))
	assert.True(t, IsPermanent(NewPermanent("x", nil)))

	at := &Error{Kind: KindAlreadyTerminal, Message: "unknown order"}
	nf := &Error{Kind: KindNotFound, Message: "no such order"}
	assert.True(t, IsAlreadyTerminal(at))
	assert.True(t, IsAlreadyTerminal(nf), "not_found counts as already terminal for cancels")
	assert.False(t, IsAlreadyTerminal(NewTransient("x", nil)))
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsNotFound(at))
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := NewTransient("wrapped", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
}

func TestCleanSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", cleanSymbol(" btc/usdt "))
	assert.Equal(t, "ETHUSDT", cleanSymbol("ETHUSDT"))
}
