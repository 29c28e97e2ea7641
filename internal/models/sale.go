package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale is the customer-facing mirror of Purchase.
type Sale struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Number   string `gorm:"size:30;uniqueIndex;not null" json:"number"`
	Customer string `gorm:"size:255;not null;index" json:"customer"`

	Currency     string          `gorm:"size:3;not null" json:"currency"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"exchange_rate"`

	Total      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total"`
	AmountPaid decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount_paid"`
	Balance    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"balance"`
	Status     Status          `gorm:"size:20;not null;index" json:"status"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
	Notes      string    `gorm:"type:text" json:"notes,omitempty"`

	Lines    []SaleLine          `gorm:"foreignKey:SaleID" json:"lines,omitempty"`
	Payments []PaymentAllocation `gorm:"polymorphic:Owner;polymorphicValue:sale" json:"payments,omitempty"`
}

// LinesTotal sums quantity x unit price over all lines.
func (s *Sale) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Total())
	}
	return total
}

type SaleLine struct {
	ID     uint  `gorm:"primaryKey" json:"id"`
	SaleID uint  `gorm:"index;not null" json:"sale_id"`
	ItemID uint  `gorm:"index;not null" json:"item_id"`
	Item   *Item `gorm:"foreignKey:ItemID" json:"item,omitempty"`

	Quantity  int64           `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
}

func (l *SaleLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}
