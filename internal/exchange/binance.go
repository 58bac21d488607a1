package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tranche/internal/logger"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// BinanceConfig holds the connection settings for the futures REST API.
type BinanceConfig struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	HTTPTimeout time.Duration
	RateBurst   int
	RatePerSec  float64
}

func (c BinanceConfig) withDefaults() BinanceConfig {
	if strings.TrimSpace(c.RESTBaseURL) == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 8
	}
	return c
}

// Binance implements Client against the Binance USD-M futures API.
type Binance struct {
	cfg     BinanceConfig
	client  *futures.Client
	limiter *RateLimiter
}

func NewBinance(cfg BinanceConfig) *Binance {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Binance{
		cfg:     final,
		client:  client,
		limiter: NewRateLimiter(final.RateBurst, final.RatePerSec),
	}
}

func (b *Binance) Name() string { return "binance-futures" }

func (b *Binance) SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	svc := b.client.NewCreateOrderService().
		Symbol(cleanSymbol(req.Symbol)).
		Side(futures.SideType(req.Side)).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.ClientOrderID)

	switch req.Kind {
	case KindMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case KindLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(req.Price.String())
	case KindStopLimit:
		// Binance futures STOP is a stop-limit: triggers at StopPrice,
		// rests at Price.
		svc = svc.Type(futures.OrderTypeStop).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(req.Price.String()).
			StopPrice(req.StopPrice.String())
	default:
		return nil, NewPermanent(fmt.Sprintf("unsupported order kind %q", req.Kind), nil)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &SubmitResult{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		Status:          Status(res.Status),
		SubmittedAt:     time.UnixMilli(res.UpdateTime),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) (*CancelResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return nil, NewPermanent(fmt.Sprintf("invalid exchange order id %q", exchangeOrderID), err)
	}
	res, err := b.client.NewCancelOrderService().
		Symbol(cleanSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &CancelResult{Status: Status(res.Status)}, nil
}

func (b *Binance) GetOrderStatus(ctx context.Context, symbol, exchangeOrderID string) (*StatusSnapshot, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return nil, NewPermanent(fmt.Sprintf("invalid exchange order id %q", exchangeOrderID), err)
	}
	ord, err := b.client.NewGetOrderService().
		Symbol(cleanSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	filled, err := decimal.NewFromString(ord.ExecutedQuantity)
	if err != nil {
		logger.Warnf("binance: unparsable executed quantity %q order=%s", ord.ExecutedQuantity, exchangeOrderID)
		filled = decimal.Zero
	}
	return &StatusSnapshot{
		Status:         Status(ord.Status),
		FilledQuantity: filled,
	}, nil
}

func (b *Binance) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	prices, err := b.client.NewListPricesService().
		Symbol(cleanSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return decimal.Zero, &Error{Kind: KindNotFound, Message: fmt.Sprintf("no price for %s", symbol)}
	}
	p, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, NewPermanent(fmt.Sprintf("unparsable price %q", prices[0].Price), err)
	}
	return p, nil
}

// cleanSymbol strips the pair separator: callers may pass BTC/USDT,
// Binance wants BTCUSDT.
func cleanSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

// classify maps Binance API errors into the engine taxonomy. Anything
// that is not a structured API response (timeouts, resets) stays
// unclassified and is treated as transient by the retry layer.
func classify(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	e := &Error{Code: apiErr.Code, Message: apiErr.Message, Cause: err}
	switch apiErr.Code {
	case -1003, -1007, -1001, -1016:
		// rate limit, server timeout, disconnect, service shutting down
		e.Kind = KindTransient
	case -2011:
		// UNKNOWN_ORDER on cancel: already filled/cancelled or never known
		e.Kind = KindAlreadyTerminal
	case -2013:
		e.Kind = KindNotFound
	default:
		// A structured rejection (bad symbol, insufficient balance,
		// filter failure, auth) is definitive; resubmitting the same
		// request will fail the same way.
		e.Kind = KindPermanent
	}
	return e
}
