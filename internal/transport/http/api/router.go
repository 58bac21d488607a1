package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tranche/internal/exchange"
	"tranche/internal/oco"
	"tranche/internal/order"
	"tranche/internal/store/sqlite"
	"tranche/internal/twap"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Router wires the engine components to REST handlers.
type Router struct {
	Store     *order.Store
	Submitter *order.Submitter
	OCO       *oco.Coordinator
	TWAP      *twap.Scheduler
	Client    exchange.Client
	Journal   *sqlite.Journal
	Limits    func(symbol string) order.Limits
}

// Register mounts all engine routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/orders", r.handleSubmitOrder)
	group.GET("/orders", r.handleListOrders)
	group.GET("/orders/:id", r.handleGetOrder)
	group.POST("/orders/:id/cancel", r.handleCancelOrder)

	group.POST("/oco", r.handlePlaceOCO)
	group.GET("/oco", r.handleListOCO)
	group.GET("/oco/:id", r.handleGetOCO)
	group.POST("/oco/:id/abort", r.handleAbortOCO)

	group.POST("/twap", r.handleStartTWAP)
	group.GET("/twap", r.handleListTWAP)
	group.GET("/twap/:id", r.handleGetTWAP)
	group.POST("/twap/:id/cancel", r.handleCancelTWAP)

	group.GET("/price", r.handlePrice)
	if r.Journal != nil {
		group.GET("/audit/orders", r.handleAuditOrders)
	}
}

type orderRequest struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	StopPrice string `json:"stop_price"`
}

func (r *Router) handleSubmitOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec := order.Spec{
		Symbol:    req.Symbol,
		Side:      exchange.Side(strings.ToUpper(req.Side)),
		Kind:      exchange.OrderKind(strings.ToUpper(req.Kind)),
		Quantity:  parseDecimal(req.Quantity),
		Price:     parseDecimal(req.Price),
		StopPrice: parseDecimal(req.StopPrice),
	}
	o, err := r.Submitter.Submit(c.Request.Context(), spec)
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "order": o})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (r *Router) handleListOrders(c *gin.Context) {
	if c.Query("open") == "true" {
		c.JSON(http.StatusOK, r.Store.Open())
		return
	}
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	orders := r.Store.List(func(o order.Order) bool {
		return status == "" || string(o.Status) == status
	})
	c.JSON(http.StatusOK, orders)
}

func (r *Router) handleGetOrder(c *gin.Context) {
	o, err := r.Store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	o, err := r.Submitter.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "order": o})
		return
	}
	c.JSON(http.StatusOK, o)
}

type ocoRequest struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	StopPrice      string `json:"stop_price"`
	StopLimitPrice string `json:"stop_limit_price"`
}

func (r *Router) handlePlaceOCO(c *gin.Context) {
	var req ocoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec := oco.Spec{
		Symbol:         req.Symbol,
		Side:           exchange.Side(strings.ToUpper(req.Side)),
		Quantity:       parseDecimal(req.Quantity),
		Price:          parseDecimal(req.Price),
		StopPrice:      parseDecimal(req.StopPrice),
		StopLimitPrice: parseDecimal(req.StopLimitPrice),
	}
	pair, err := r.OCO.Place(c.Request.Context(), spec)
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (r *Router) handleListOCO(c *gin.Context) {
	c.JSON(http.StatusOK, r.OCO.Pairs())
}

func (r *Router) handleGetOCO(c *gin.Context) {
	pair, ok := r.OCO.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pair not found"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (r *Router) handleAbortOCO(c *gin.Context) {
	pair, err := r.OCO.Abort(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type twapRequest struct {
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	TotalQuantity   string `json:"total_quantity"`
	SliceCount      int    `json:"slice_count"`
	IntervalSeconds int    `json:"interval_seconds"`
	DurationSeconds int    `json:"duration_seconds"`
	Kind            string `json:"kind"`
	LimitPrice      string `json:"limit_price"`
}

func (r *Router) handleStartTWAP(c *gin.Context) {
	var req twapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	treq := twap.Request{
		Symbol:        symbol,
		Side:          exchange.Side(strings.ToUpper(req.Side)),
		TotalQuantity: parseDecimal(req.TotalQuantity),
		SliceCount:    req.SliceCount,
		Interval:      time.Duration(req.IntervalSeconds) * time.Second,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		Kind:          exchange.OrderKind(strings.ToUpper(req.Kind)),
		LimitPrice:    parseDecimal(req.LimitPrice),
	}
	if r.Limits != nil {
		treq.LotSize = r.Limits(symbol).LotSize
	}
	plan, err := r.TWAP.Start(c.Request.Context(), treq)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (r *Router) handleListTWAP(c *gin.Context) {
	c.JSON(http.StatusOK, r.TWAP.Plans())
}

func (r *Router) handleGetTWAP(c *gin.Context) {
	plan, ok := r.TWAP.Plan(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
		return
	}
	c.JSON(http.StatusOK, plan)
}

type twapCancelRequest struct {
	CancelInFlight bool `json:"cancel_in_flight"`
}

func (r *Router) handleCancelTWAP(c *gin.Context) {
	var req twapCancelRequest
	_ = c.ShouldBindJSON(&req)
	if err := r.TWAP.Cancel(c.Param("id"), req.CancelInFlight); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (r *Router) handlePrice(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	price, err := r.Client.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

func (r *Router) handleAuditOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := r.Journal.RecentOrders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func parseDecimal(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}
