package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a ledger entry.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

func (d Direction) Valid() bool { return d == DirectionIncome || d == DirectionExpense }

// Category is the closed set of ledger categories.
type Category string

const (
	CategoryProductSales         Category = "venta_productos"
	CategoryDebtCollection       Category = "cobro_deuda"
	CategoryOtherIncome          Category = "otros_ingresos"
	CategoryRawMaterialPurchase  Category = "compra_materia_prima"
	CategoryFinishedGoodPurchase Category = "compra_producto_terminado"
	CategoryDebtPayment          Category = "pago_deuda"
	CategoryServices             Category = "servicios"
	CategorySalaries             Category = "salarios"
	CategoryRent                 Category = "alquiler"
	CategoryOtherExpense         Category = "otros_gastos"
)

var categoryDirection = map[Category]Direction{
	CategoryProductSales:         DirectionIncome,
	CategoryDebtCollection:       DirectionIncome,
	CategoryOtherIncome:          DirectionIncome,
	CategoryRawMaterialPurchase:  DirectionExpense,
	CategoryFinishedGoodPurchase: DirectionExpense,
	CategoryDebtPayment:          DirectionExpense,
	CategoryServices:             DirectionExpense,
	CategorySalaries:             DirectionExpense,
	CategoryRent:                 DirectionExpense,
	CategoryOtherExpense:         DirectionExpense,
}

// Direction returns the direction a category belongs to and whether the
// category exists at all.
func (c Category) Direction() (Direction, bool) {
	d, ok := categoryDirection[c]
	return d, ok
}

// LedgerEntry is one income or expense fact. BaseAmount is derived from
// Amount, Currency and ExchangeRate by the ledger and never taken from input.
type LedgerEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Direction   Direction `gorm:"size:10;not null;index" json:"direction"`
	Category    Category  `gorm:"size:40;not null;index" json:"category"`
	Description string    `gorm:"size:500" json:"description,omitempty"`

	Amount       decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	Currency     string          `gorm:"size:3;not null" json:"currency"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"exchange_rate"`
	BaseAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"base_amount"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`

	RefType RefType `gorm:"size:30;index:idx_ledger_ref" json:"ref_type,omitempty"`
	RefID   *uint   `gorm:"index:idx_ledger_ref" json:"ref_id,omitempty"`

	// Set on manual entries that moved money in an account.
	AccountID            *uint `gorm:"index" json:"account_id,omitempty"`
	AccountTransactionID *uint `json:"account_transaction_id,omitempty"`

	Metadata Metadata `gorm:"type:text" json:"metadata,omitempty"`
}

// IsManual reports whether the entry was created directly rather than by a
// purchase, sale or debt payment.
func (e *LedgerEntry) IsManual() bool { return e.RefType == "" }

// Signed returns the base amount with expenses negative.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionExpense {
		return e.BaseAmount.Neg()
	}
	return e.BaseAmount
}
