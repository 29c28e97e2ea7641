package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance absorbs floating rounding on payment sums and debt balances.
var Tolerance = decimal.New(1, -2)

// Status is the settlement state of a purchase, sale or debt.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
)

// StatusFor derives the settlement status from the outstanding balance.
// balance <= tolerance is paid; 0 < balance < original is partially paid;
// anything else is pending.
func StatusFor(original, balance decimal.Decimal) Status {
	if balance.LessThanOrEqual(Tolerance) {
		return StatusPaid
	}
	if balance.LessThan(original) {
		return StatusPartiallyPaid
	}
	return StatusPending
}

// ClampBalance returns original - paid, never below zero.
func ClampBalance(original, paid decimal.Decimal) decimal.Decimal {
	b := original.Sub(paid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// PaymentMethod is how an allocation is settled. MethodCredit defers the
// amount into a Debt instead of moving money.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodCredit   PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodTransfer, MethodCard, MethodCredit:
		return true
	}
	return false
}

func (m PaymentMethod) IsCredit() bool { return m == MethodCredit }

// RefType names the record an entry or posting was created for.
type RefType string

const (
	RefPurchase        RefType = "purchase"
	RefSale            RefType = "sale"
	RefDebt            RefType = "debt"
	RefAccountTransfer RefType = "account_transfer"
	RefProductionOrder RefType = "production_order"
)

// PaymentAllocation splits a purchase or sale total across payment methods.
// Owner is polymorphic: "purchase" or "sale".
type PaymentAllocation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OwnerID   uint   `gorm:"index:idx_allocation_owner;not null" json:"-"`
	OwnerType string `gorm:"size:20;index:idx_allocation_owner;not null" json:"-"`

	Method    PaymentMethod   `gorm:"size:20;not null" json:"method"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	AccountID *uint           `gorm:"index" json:"account_id,omitempty"`
}

// SplitAllocations sums allocations into settled (cash, card, transfer) and
// deferred (credit) parts.
func SplitAllocations(allocs []PaymentAllocation) (settled, deferred decimal.Decimal) {
	for _, a := range allocs {
		if a.Method.IsCredit() {
			deferred = deferred.Add(a.Amount)
			continue
		}
		settled = settled.Add(a.Amount)
	}
	return settled, deferred
}
