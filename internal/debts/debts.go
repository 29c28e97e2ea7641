// Package debts tracks what is still owed on purchases and sales.
// balance = original - paid always holds (clamped at zero) and status is
// derived from balance on read.
package debts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/validation"
)

type Ledger struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: log.With().Str("component", "debts").Logger()}
}

type OpenInput struct {
	Kind         models.DebtKind
	RefType      models.RefType
	RefID        uint
	Counterparty string
	Currency     string
	ExchangeRate decimal.Decimal
	Original     decimal.Decimal
}

// Open creates the debt of a purchase or sale. There is at most one per origin.
func (l *Ledger) Open(ctx context.Context, in OpenInput) (*models.Debt, error) {
	v := validation.Violations{}
	validation.PositiveDecimal("original", in.Original, v)
	validation.Required("counterparty", in.Counterparty, v)
	if in.Kind != models.DebtPayable && in.Kind != models.DebtReceivable {
		v["kind"] = "invalid"
	}
	if err := apperr.FromViolations(v); err != nil {
		return nil, err
	}
	debt := models.Debt{
		Kind:         in.Kind,
		RefType:      in.RefType,
		RefID:        in.RefID,
		Counterparty: strings.TrimSpace(in.Counterparty),
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Original:     in.Original,
		Paid:         decimal.Zero,
	}
	debt.Recompute()
	if err := l.db.WithContext(ctx).Create(&debt).Error; err != nil {
		return nil, fmt.Errorf("open debt: %w", err)
	}
	return &debt, nil
}

// Get loads a debt with its payment history, oldest payment first.
func (l *Ledger) Get(ctx context.Context, id uint) (*models.Debt, error) {
	return getDebt(l.db.WithContext(ctx), id)
}

func getDebt(db *gorm.DB, id uint) (*models.Debt, error) {
	var debt models.Debt
	err := db.Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("paid_at, id") }).First(&debt, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("debt", id)
		}
		return nil, fmt.Errorf("load debt %d: %w", id, err)
	}
	return &debt, nil
}

// FindByRef returns the debt of a purchase or sale, or nil when there is none.
func (l *Ledger) FindByRef(ctx context.Context, refType models.RefType, refID uint) (*models.Debt, error) {
	var debt models.Debt
	q := l.db.WithContext(ctx).Where("ref_type = ? AND ref_id = ?", refType, refID).Order("id").Limit(1).Find(&debt)
	if q.Error != nil {
		return nil, fmt.Errorf("find debt by ref: %w", q.Error)
	}
	if q.RowsAffected == 0 {
		return nil, nil
	}
	return l.Get(ctx, debt.ID)
}

// Filter narrows List. OpenOnly keeps debts with a balance above tolerance.
type Filter struct {
	Kind         models.DebtKind
	Counterparty string
	OpenOnly     bool
}

func (l *Ledger) List(ctx context.Context, f Filter) ([]models.Debt, error) {
	q := l.db.WithContext(ctx).Order("id")
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Counterparty != "" {
		q = q.Where("LOWER(counterparty) = ?", strings.ToLower(strings.TrimSpace(f.Counterparty)))
	}
	if f.OpenOnly {
		q = q.Where("balance > ?", models.Tolerance)
	}
	var out []models.Debt
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	return out, nil
}

// Payment is an amortization of a debt.
type Payment struct {
	Amount    decimal.Decimal      `json:"amount"`
	Method    models.PaymentMethod `json:"method"`
	AccountID *uint                `json:"account_id,omitempty"`
	PaidAt    time.Time            `json:"paid_at"`
}

// Validate checks the payment shape without looking at the debt.
func (p Payment) Validate() error {
	v := validation.Violations{}
	validation.PositiveDecimal("amount", p.Amount, v)
	if !p.Method.Valid() || p.Method.IsCredit() {
		v["method"] = "invalid"
	}
	return apperr.FromViolations(v)
}

// ApplyPayment appends p to the debt history and moves paid and balance.
// An amount above balance + tolerance is rejected. Repeating the call
// records a second payment: there is no deduplication.
func (l *Ledger) ApplyPayment(ctx context.Context, id uint, p Payment) (*models.Debt, *models.DebtPayment, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now()
	}
	var (
		debt *models.Debt
		row  models.DebtPayment
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if debt, err = getDebt(tx, id); err != nil {
			return err
		}
		if p.Amount.GreaterThan(debt.Balance.Add(models.Tolerance)) {
			return apperr.Validation("amount", "amount_exceeds_balance")
		}
		row = models.DebtPayment{DebtID: id, Amount: p.Amount, Method: p.Method, AccountID: p.AccountID, PaidAt: p.PaidAt}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create debt payment: %w", err)
		}
		debt.Paid = debt.Paid.Add(p.Amount)
		debt.Recompute()
		debt.Payments = append(debt.Payments, row)
		return saveTotals(tx, debt)
	})
	if err != nil {
		return nil, nil, err
	}
	l.log.Info().Uint("debt_id", id).Str("amount", p.Amount.String()).Str("balance", debt.Balance.String()).Str("status", string(debt.Status())).Msg("debt payment applied")
	return debt, &row, nil
}

func saveTotals(tx *gorm.DB, debt *models.Debt) error {
	err := tx.Model(&models.Debt{}).Where("id = ?", debt.ID).
		Updates(map[string]any{"paid": debt.Paid, "balance": debt.Balance}).Error
	if err != nil {
		return fmt.Errorf("update debt %d: %w", debt.ID, err)
	}
	return nil
}

// LinkPayment records which ledger entry and account posting a payment produced.
func (l *Ledger) LinkPayment(ctx context.Context, paymentID uint, entryID, accountTxID *uint) error {
	err := l.db.WithContext(ctx).Model(&models.DebtPayment{}).Where("id = ?", paymentID).
		Updates(map[string]any{"ledger_entry_id": entryID, "account_transaction_id": accountTxID}).Error
	if err != nil {
		return fmt.Errorf("link debt payment %d: %w", paymentID, err)
	}
	return nil
}

// RevertPayment removes a payment from the history and gives its amount back
// to the balance. The removed payment is returned.
func (l *Ledger) RevertPayment(ctx context.Context, paymentID uint) (*models.Debt, *models.DebtPayment, error) {
	var (
		debt *models.Debt
		row  models.DebtPayment
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("debt_payment", paymentID)
			}
			return fmt.Errorf("load debt payment %d: %w", paymentID, err)
		}
		var err error
		if debt, err = getDebt(tx, row.DebtID); err != nil {
			return err
		}
		if err := tx.Delete(&models.DebtPayment{}, paymentID).Error; err != nil {
			return fmt.Errorf("delete debt payment %d: %w", paymentID, err)
		}
		debt.Paid = debt.Paid.Sub(row.Amount)
		if debt.Paid.IsNegative() {
			debt.Paid = decimal.Zero
		}
		debt.Recompute()
		kept := debt.Payments[:0]
		for _, p := range debt.Payments {
			if p.ID != paymentID {
				kept = append(kept, p)
			}
		}
		debt.Payments = kept
		return saveTotals(tx, debt)
	})
	if err != nil {
		return nil, nil, err
	}
	return debt, &row, nil
}

// Delete removes a debt and its payment history, returning both.
func (l *Ledger) Delete(ctx context.Context, id uint) (*models.Debt, error) {
	var debt *models.Debt
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if debt, err = getDebt(tx, id); err != nil {
			return err
		}
		if err := tx.Where("debt_id = ?", id).Delete(&models.DebtPayment{}).Error; err != nil {
			return fmt.Errorf("delete debt payments: %w", err)
		}
		if err := tx.Delete(&models.Debt{}, id).Error; err != nil {
			return fmt.Errorf("delete debt %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return debt, nil
}

// Restore re-inserts a debt removed by Delete together with its payments.
func (l *Ledger) Restore(ctx context.Context, debt *models.Debt) error {
	row := *debt
	payments := row.Payments
	row.Payments = nil
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("restore debt %d: %w", debt.ID, err)
		}
		for _, p := range payments {
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("restore debt payment %d: %w", p.ID, err)
			}
		}
		return nil
	})
}
