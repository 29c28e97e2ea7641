package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/diewo77/go-ledger/internal/accounts"
	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/debts"
	"github.com/diewo77/go-ledger/internal/ledger"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/saga"
)

type DebtPaymentResult struct {
	Debt               *models.Debt               `json:"debt"`
	Payment            *models.DebtPayment        `json:"payment"`
	Entry              *models.LedgerEntry        `json:"entry"`
	AccountTransaction *models.AccountTransaction `json:"account_transaction,omitempty"`
}

func (o *Orchestrator) GetDebt(ctx context.Context, id uint) (*models.Debt, error) {
	return o.debts.Get(ctx, id)
}

func (o *Orchestrator) ListDebts(ctx context.Context, f debts.Filter) ([]models.Debt, error) {
	return o.debts.List(ctx, f)
}

// PayDebt records a payment against a debt and mirrors the new balance onto
// the originating purchase or sale. It writes one ledger entry (expense for a
// payable, income for a receivable) and, when an account is named, one
// account posting. Calling it twice records two payments.
func (o *Orchestrator) PayDebt(ctx context.Context, id uint, p debts.Payment) (*DebtPaymentResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	debt, err := o.debts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Amount.GreaterThan(debt.Balance.Add(o.tolerance)) {
		return nil, apperr.Validation("amount", "amount_exceeds_balance")
	}
	if p.AccountID != nil {
		if _, err := o.lookup.Lookup(ctx, *p.AccountID); err != nil {
			return nil, err
		}
	}

	sg := saga.New("debt.pay", o.log)
	res := &DebtPaymentResult{}
	err = sg.Run(ctx, func(ctx context.Context) error {
		updated, payment, err := o.debts.ApplyPayment(ctx, id, p)
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("debt payment %d", payment.ID), func(ctx context.Context) error {
			_, _, err := o.debts.RevertPayment(ctx, payment.ID)
			return err
		})
		res.Payment = payment

		if err := o.mirror(ctx, sg, updated); err != nil {
			return err
		}

		category, direction := models.CategoryDebtPayment, models.DirectionExpense
		txType := models.TxPurchase
		if updated.Kind == models.DebtReceivable {
			category, direction = models.CategoryDebtCollection, models.DirectionIncome
			txType = models.TxDeposit
		}
		desc := fmt.Sprintf("Debt %d payment - %s", updated.ID, updated.Counterparty)
		rate := updated.ExchangeRate
		if !rate.IsPositive() {
			rate = decimal.NewFromInt(1)
		}
		m := fx{currency: updated.Currency, rate: rate}
		if m.currency == "" {
			m.currency = o.ledger.Base()
		}

		var postingID *uint
		if p.AccountID != nil {
			tx, err := o.accounts.Post(ctx, accounts.Posting{
				AccountID:   *p.AccountID,
				Type:        txType,
				Amount:      o.base(m, p.Amount),
				Description: desc,
				RefType:     models.RefDebt,
				RefID:       &updated.ID,
				OccurredAt:  payment.PaidAt,
			})
			if err != nil {
				return err
			}
			sg.Push(fmt.Sprintf("account %d %s", *p.AccountID, txType), o.undoPost(tx.ID))
			res.AccountTransaction = tx
			postingID = &tx.ID
		}

		entry, err := o.ledger.Record(ctx, ledger.EntryInput{
			Direction:    direction,
			Category:     category,
			Description:  desc,
			Amount:       p.Amount,
			Currency:     m.currency,
			ExchangeRate: m.rate,
			OccurredAt:   payment.PaidAt,
			RefType:      models.RefDebt,
			RefID:        &updated.ID,
			AccountID:    p.AccountID,
			Metadata: models.Metadata{
				"payment_id": strconv.FormatUint(uint64(payment.ID), 10),
				"origin":     fmt.Sprintf("%s:%d", updated.RefType, updated.RefID),
			},
			AccountTransactionID: postingID,
		})
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("entry %d", entry.ID), o.undoEntry(entry.ID))
		res.Entry = entry

		if err := o.debts.LinkPayment(ctx, payment.ID, &entry.ID, postingID); err != nil {
			return err
		}
		payment.LedgerEntryID, payment.AccountTransactionID = &entry.ID, postingID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Debt, err = o.debts.Get(ctx, id); err != nil {
		return nil, apperr.Unexpected("debt.pay", err)
	}
	o.log.Info().Uint("debt_id", id).Str("amount", p.Amount.String()).Str("balance", res.Debt.Balance.String()).Str("status", string(res.Debt.Status())).Msg("debt paid")
	return res, nil
}

// mirror copies the debt balance and status onto the purchase or sale it
// came from, keeping balance + amount paid = total on the origin.
func (o *Orchestrator) mirror(ctx context.Context, sg *saga.Saga, debt *models.Debt) error {
	var model any
	switch debt.RefType {
	case models.RefPurchase:
		model = &models.Purchase{}
	case models.RefSale:
		model = &models.Sale{}
	default:
		return nil
	}
	var origin struct {
		Total      decimal.Decimal
		AmountPaid decimal.Decimal
		Balance    decimal.Decimal
		Status     models.Status
	}
	q := o.db.WithContext(ctx).Model(model).Where("id = ?", debt.RefID).
		Select("total", "amount_paid", "balance", "status").Scan(&origin)
	if q.Error != nil {
		return fmt.Errorf("load %s %d: %w", debt.RefType, debt.RefID, q.Error)
	}
	if q.RowsAffected == 0 {
		return apperr.NotFound(string(debt.RefType), debt.RefID)
	}
	balance := debt.Balance
	update := map[string]any{
		"balance":     balance,
		"amount_paid": origin.Total.Sub(balance),
		"status":      models.StatusFor(origin.Total, balance),
	}
	if err := o.db.WithContext(ctx).Model(model).Where("id = ?", debt.RefID).Updates(update).Error; err != nil {
		return fmt.Errorf("mirror %s %d: %w", debt.RefType, debt.RefID, err)
	}
	prev := map[string]any{"balance": origin.Balance, "amount_paid": origin.AmountPaid, "status": origin.Status}
	sg.Push(fmt.Sprintf("mirror %s %d", debt.RefType, debt.RefID), func(ctx context.Context) error {
		return o.db.WithContext(ctx).Model(model).Where("id = ?", debt.RefID).Updates(prev).Error
	})
	return nil
}
