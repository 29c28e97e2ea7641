package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DebtKind tells whether we owe (payable, from a purchase) or are owed
// (receivable, from a sale).
type DebtKind string

const (
	DebtPayable    DebtKind = "payable"
	DebtReceivable DebtKind = "receivable"
)

// Debt is the unpaid remainder of a Purchase or Sale. Status is never stored:
// it is computed from Balance on every read.
type Debt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Kind    DebtKind `gorm:"size:20;not null;index" json:"kind"`
	RefType RefType  `gorm:"size:30;not null;uniqueIndex:idx_debt_ref" json:"ref_type"`
	RefID   uint     `gorm:"not null;uniqueIndex:idx_debt_ref" json:"ref_id"`

	Counterparty string          `gorm:"size:255;not null;index" json:"counterparty"`
	Currency     string          `gorm:"size:3;not null" json:"currency"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"exchange_rate"`

	Original decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"original"`
	Paid     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"paid"`
	Balance  decimal.Decimal `gorm:"type:decimal(18,4);not null;index" json:"balance"`

	Payments []DebtPayment `gorm:"foreignKey:DebtID" json:"payments,omitempty"`
}

// Status derives pending / partially paid / paid from the balance.
func (d Debt) Status() Status {
	return StatusFor(d.Original, d.Balance)
}

// Recompute sets Balance from Original and Paid.
func (d *Debt) Recompute() {
	d.Balance = ClampBalance(d.Original, d.Paid)
}

func (d Debt) MarshalJSON() ([]byte, error) {
	type alias Debt
	return json.Marshal(struct {
		alias
		Status Status `json:"status"`
	}{alias(d), d.Status()})
}

// DebtPayment is one entry in a debt's payment history. The ids of the ledger
// entry and account posting it produced are kept for reversal.
type DebtPayment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DebtID    uint            `gorm:"index;not null" json:"debt_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	Method    PaymentMethod   `gorm:"size:20;not null" json:"method"`
	AccountID *uint           `gorm:"index" json:"account_id,omitempty"`
	PaidAt    time.Time       `gorm:"not null" json:"paid_at"`

	LedgerEntryID        *uint `json:"ledger_entry_id,omitempty"`
	AccountTransactionID *uint `json:"account_transaction_id,omitempty"`
}
