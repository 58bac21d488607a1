// Package sqlite persists an audit journal of orders, OCO pairs and
// TWAP plans. The in-memory order store stays the source of truth; the
// journal exists for reconciliation after a restart and for manual
// review of partial composite outcomes.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tranche/internal/oco"
	"tranche/internal/order"
	"tranche/internal/store/model"
	"tranche/internal/twap"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Journal struct {
	db *gorm.DB
}

func NewJournal(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.OrderModel{}, &model.OCOPairModel{}, &model.TWAPPlanModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep lock contention low, writers are short upserts.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ order.Journal = (*Journal)(nil)
	_ oco.Journal   = (*Journal)(nil)
	_ twap.Journal  = (*Journal)(nil)
)

func (j *Journal) RecordOrder(ctx context.Context, o order.Order) error {
	row := &model.OrderModel{
		LocalID:        o.ID,
		ExchangeID:     o.ExchangeID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Kind:           string(o.Kind),
		Quantity:       o.Quantity.String(),
		Price:          o.Price.String(),
		StopPrice:      o.StopPrice.String(),
		Status:         string(o.Status),
		FilledQuantity: o.FilledQuantity.String(),
		RejectReason:   o.RejectReason,
		CreatedAtUnix:  o.CreatedAt.UnixMilli(),
		UpdatedAtUnix:  o.UpdatedAt.UnixMilli(),
	}
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "local_id"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (j *Journal) RecordPair(ctx context.Context, p oco.Pair) error {
	dual := 0
	if p.DualFill {
		dual = 1
	}
	row := &model.OCOPairModel{
		PairID:        p.ID,
		OrderA:        p.OrderA,
		OrderB:        p.OrderB,
		State:         string(p.State),
		Outcome:       p.Outcome,
		DualFill:      dual,
		CreatedAtUnix: p.CreatedAt.UnixMilli(),
	}
	if !p.ResolvedAt.IsZero() {
		row.ResolvedAtUnix = p.ResolvedAt.UnixMilli()
	}
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_id"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (j *Journal) RecordPlan(ctx context.Context, p twap.Plan) error {
	slices, err := json.Marshal(p.Slices)
	if err != nil {
		return err
	}
	row := &model.TWAPPlanModel{
		PlanID:        p.ID,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		Kind:          string(p.Kind),
		TotalQuantity: p.TotalQuantity.String(),
		SliceCount:    len(p.Slices),
		IntervalMS:    p.Interval.Milliseconds(),
		Status:        string(p.Status),
		Summary:       p.Summary,
		SlicesJSON:    slices,
		StartAtUnix:   p.StartAt.UnixMilli(),
		CreatedAtUnix: p.CreatedAt.UnixMilli(),
	}
	if !p.FinishedAt.IsZero() {
		row.FinishedAtUnix = p.FinishedAt.UnixMilli()
	}
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plan_id"}},
		UpdateAll: true,
	}).Create(row).Error
}

// RecentOrders returns the newest journal rows, for the audit API.
func (j *Journal) RecentOrders(ctx context.Context, limit int) ([]model.OrderModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.OrderModel
	err := j.db.WithContext(ctx).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
