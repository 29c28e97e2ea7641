package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a cash box or bank account. Balance is always
// OpeningBalance + the signed sum of its transactions.
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Label          string          `gorm:"size:120;not null" json:"label"`
	Number         string          `gorm:"size:60;index" json:"number,omitempty"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"opening_balance"`
	Balance        decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"balance"`
	Active         bool            `gorm:"not null;default:true" json:"active"`
}

// AccountTxType is the kind of posting against an account.
type AccountTxType string

const (
	TxDeposit    AccountTxType = "deposit"
	TxWithdrawal AccountTxType = "withdrawal"
	TxPurchase   AccountTxType = "purchase"
	TxAdjustment AccountTxType = "adjustment"
)

func (t AccountTxType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxPurchase, TxAdjustment:
		return true
	}
	return false
}

// AccountTransaction is one posting. Amount is positive for deposits,
// withdrawals and purchases; adjustments carry their own sign.
type AccountTransaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	AccountID   uint            `gorm:"index;not null" json:"account_id"`
	Type        AccountTxType   `gorm:"size:20;not null" json:"type"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	Description string          `gorm:"size:500" json:"description,omitempty"`
	OccurredAt  time.Time       `gorm:"not null;index" json:"occurred_at"`

	RefType RefType `gorm:"size:30;index:idx_account_tx_ref" json:"ref_type,omitempty"`
	RefID   *uint   `gorm:"index:idx_account_tx_ref" json:"ref_id,omitempty"`
}

// SignedAmount is the effect of the posting on the account balance.
func (t *AccountTransaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case TxWithdrawal, TxPurchase:
		return t.Amount.Neg()
	default:
		return t.Amount
	}
}
