package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind distinguishes raw materials from finished goods.
type ItemKind string

const (
	ItemKindRawMaterial  ItemKind = "raw_material"
	ItemKindFinishedGood ItemKind = "finished_good"
)

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	return k == ItemKindRawMaterial || k == ItemKindFinishedGood
}

// Item is a stock-tracked product or raw material.
// Quantity never goes negative; the stock ledger enforces it on every write.
type Item struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Code     string   `gorm:"size:40;uniqueIndex;not null" json:"code"`
	Name     string   `gorm:"size:255;not null;index" json:"name"`
	Category string   `gorm:"size:100;index" json:"category,omitempty"`
	Variant  string   `gorm:"size:100" json:"variant,omitempty"` // color or variant key
	Kind     ItemKind `gorm:"size:20;not null;default:'finished_good'" json:"kind"`

	UnitCost  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_cost"`  // last purchase cost
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"` // selling price
	Quantity  int64           `gorm:"not null;default:0" json:"quantity"`
}

// StockValue is the on-hand quantity valued at last cost.
func (i *Item) StockValue() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(i.Quantity))
}
