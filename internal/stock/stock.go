// Package stock owns item quantities. Every quantity write goes through
// Adjust, which refuses to take an item below zero.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/models"
)

// Delta is a requested quantity change for one item.
type Delta struct {
	ItemID uint
	Qty    int64
}

type Ledger struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: log.With().Str("component", "stock").Logger()}
}

// Get loads one item.
func (l *Ledger) Get(ctx context.Context, id uint) (*models.Item, error) {
	var it models.Item
	if err := l.db.WithContext(ctx).First(&it, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("item", id)
		}
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	return &it, nil
}

// Adjust adds delta to the item's quantity and returns the updated item.
// A decrease that would go below zero is rejected with InsufficientStock and
// nothing is written; the quantity is never clamped.
func (l *Ledger) Adjust(ctx context.Context, id uint, delta int64) (*models.Item, error) {
	if delta == 0 {
		return l.Get(ctx, id)
	}
	res := l.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ? AND quantity + ? >= 0", id, delta).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return nil, fmt.Errorf("adjust item %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		it, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &apperr.InsufficientStockError{Lines: []apperr.StockShortage{{
			ItemID: it.ID, ItemName: it.Name, Requested: -delta, Available: it.Quantity,
		}}}
	}
	it, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.log.Debug().Uint("item_id", id).Int64("delta", delta).Int64("quantity", it.Quantity).Msg("stock adjusted")
	return it, nil
}

// Check verifies that every decrease in deltas can be served from current
// stock, summing deltas that target the same item. It reports every short
// item at once and writes nothing.
func (l *Ledger) Check(ctx context.Context, deltas []Delta) error {
	need := map[uint]int64{}
	var order []uint
	for _, d := range deltas {
		if _, seen := need[d.ItemID]; !seen {
			order = append(order, d.ItemID)
		}
		need[d.ItemID] += d.Qty
	}
	if len(order) == 0 {
		return nil
	}
	var items []models.Item
	if err := l.db.WithContext(ctx).Where("id IN ?", order).Find(&items).Error; err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	byID := make(map[uint]models.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	var short []apperr.StockShortage
	for _, id := range order {
		it, ok := byID[id]
		if !ok {
			return apperr.NotFound("item", id)
		}
		if delta := need[id]; delta < 0 && it.Quantity+delta < 0 {
			short = append(short, apperr.StockShortage{ItemID: id, ItemName: it.Name, Requested: -delta, Available: it.Quantity})
		}
	}
	if len(short) > 0 {
		return &apperr.InsufficientStockError{Lines: short}
	}
	return nil
}

// SetUnitCost overwrites the item's last unit cost and returns the previous one.
func (l *Ledger) SetUnitCost(ctx context.Context, id uint, cost decimal.Decimal) (decimal.Decimal, error) {
	it, err := l.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	prev := it.UnitCost
	if err := l.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).Update("unit_cost", cost).Error; err != nil {
		return decimal.Zero, fmt.Errorf("set unit cost %d: %w", id, err)
	}
	return prev, nil
}

// RestoreUnitCost puts prev back only if the item still carries expected,
// so a later purchase's cost is not clobbered. It reports whether it wrote.
func (l *Ledger) RestoreUnitCost(ctx context.Context, id uint, expected, prev decimal.Decimal) (bool, error) {
	it, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !it.UnitCost.Equal(expected) {
		return false, nil
	}
	if err := l.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).Update("unit_cost", prev).Error; err != nil {
		return false, fmt.Errorf("restore unit cost %d: %w", id, err)
	}
	return true, nil
}
