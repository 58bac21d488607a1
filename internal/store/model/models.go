package model

import "gorm.io/datatypes"

// OrderModel is the journal row for one atomic order. LocalID is the
// engine-assigned id (also the client order id on the wire).
type OrderModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	LocalID        string `gorm:"column:local_id;uniqueIndex"`
	ExchangeID     string `gorm:"column:exchange_id;index"`
	Symbol         string `gorm:"column:symbol;index"`
	Side           string `gorm:"column:side"`
	Kind           string `gorm:"column:kind"`
	Quantity       string `gorm:"column:quantity"`
	Price          string `gorm:"column:price"`
	StopPrice      string `gorm:"column:stop_price"`
	Status         string `gorm:"column:status;index"`
	FilledQuantity string `gorm:"column:filled_quantity"`
	RejectReason   string `gorm:"column:reject_reason"`
	CreatedAtUnix  int64  `gorm:"column:created_at"`
	UpdatedAtUnix  int64  `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// OCOPairModel is the journal row for a linked order pair.
type OCOPairModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	PairID         string `gorm:"column:pair_id;uniqueIndex"`
	OrderA         string `gorm:"column:order_a"`
	OrderB         string `gorm:"column:order_b"`
	State          string `gorm:"column:state;index"`
	Outcome        string `gorm:"column:outcome"`
	DualFill       int    `gorm:"column:dual_fill"`
	CreatedAtUnix  int64  `gorm:"column:created_at"`
	ResolvedAtUnix int64  `gorm:"column:resolved_at"`
}

func (OCOPairModel) TableName() string { return "oco_pairs" }

// TWAPPlanModel is the journal row for one TWAP plan; the slice
// breakdown is kept as JSON since it is only read back for audit.
type TWAPPlanModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	PlanID         string         `gorm:"column:plan_id;uniqueIndex"`
	Symbol         string         `gorm:"column:symbol;index"`
	Side           string         `gorm:"column:side"`
	Kind           string         `gorm:"column:kind"`
	TotalQuantity  string         `gorm:"column:total_quantity"`
	SliceCount     int            `gorm:"column:slice_count"`
	IntervalMS     int64          `gorm:"column:interval_ms"`
	Status         string         `gorm:"column:status;index"`
	Summary        string         `gorm:"column:summary"`
	SlicesJSON     datatypes.JSON `gorm:"column:slices_json;type:TEXT"`
	StartAtUnix    int64          `gorm:"column:start_at"`
	FinishedAtUnix int64          `gorm:"column:finished_at"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
}

func (TWAPPlanModel) TableName() string { return "twap_plans" }
