package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Purchase is a supplier transaction. Balance + AmountPaid equals Total at all
// times; Balance and Status mirror the linked Debt when one exists.
type Purchase struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Number   string `gorm:"size:30;uniqueIndex;not null" json:"number"`
	Supplier string `gorm:"size:255;not null;index" json:"supplier"`

	Currency     string          `gorm:"size:3;not null" json:"currency"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"exchange_rate"`

	Total      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total"`
	AmountPaid decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount_paid"`
	Balance    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"balance"`
	Status     Status          `gorm:"size:20;not null;index" json:"status"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
	Notes      string    `gorm:"type:text" json:"notes,omitempty"`

	Lines    []PurchaseLine      `gorm:"foreignKey:PurchaseID" json:"lines,omitempty"`
	Payments []PaymentAllocation `gorm:"polymorphic:Owner;polymorphicValue:purchase" json:"payments,omitempty"`
}

// LinesTotal sums quantity x unit cost over all lines.
func (p *Purchase) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// PurchaseLine is one item bought. PreviousUnitCost keeps the item's cost
// before this purchase overwrote it so deletion can put it back.
type PurchaseLine struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	PurchaseID uint  `gorm:"index;not null" json:"purchase_id"`
	ItemID     uint  `gorm:"index;not null" json:"item_id"`
	Item       *Item `gorm:"foreignKey:ItemID" json:"item,omitempty"`

	Quantity         int64           `gorm:"not null" json:"quantity"`
	UnitCost         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_cost"`
	PreviousUnitCost decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"previous_unit_cost"`
}

// Total is quantity x unit cost.
func (l *PurchaseLine) Total() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(l.Quantity))
}
