// Package services holds the transaction orchestrator: the only place where a
// business event is broken down into writes against the stock, account,
// ledger and debt stores, and where those writes are reversed.
//
// Each operation validates everything it can before writing, then runs its
// writes under a saga so that a failure half-way unwinds what was applied.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/accounts"
	"github.com/diewo77/go-ledger/internal/catalog"
	"github.com/diewo77/go-ledger/internal/debts"
	"github.com/diewo77/go-ledger/internal/ledger"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/saga"
	"github.com/diewo77/go-ledger/internal/sequence"
	"github.com/diewo77/go-ledger/internal/stock"
	"github.com/diewo77/go-ledger/internal/validation"
)

// ItemResolver finds items for transaction lines and mints new ones.
type ItemResolver interface {
	Find(ctx context.Context, ref catalog.ItemRef) (*models.Item, error)
	Resolve(ctx context.Context, ref catalog.ItemRef) (*models.Item, bool, error)
	Delete(ctx context.Context, id uint) error
}

// AccountLookup returns an account that may receive postings.
type AccountLookup interface {
	Lookup(ctx context.Context, id uint) (*models.Account, error)
}

// NumberSource hands out unique transaction numbers.
type NumberSource interface {
	Number(ctx context.Context, prefix string, exists sequence.ExistsFunc) (string, error)
}

type Deps struct {
	DB       *gorm.DB
	Items    ItemResolver
	Lookup   AccountLookup
	Numbers  NumberSource
	Stock    *stock.Ledger
	Accounts *accounts.Store
	Ledger   *ledger.Ledger
	Debts    *debts.Ledger
	Log      zerolog.Logger

	LowStockThreshold int64
	Tolerance         decimal.Decimal
}

type Orchestrator struct {
	db        *gorm.DB
	items     ItemResolver
	lookup    AccountLookup
	numbers   NumberSource
	stock     *stock.Ledger
	accounts  *accounts.Store
	ledger    *ledger.Ledger
	debts     *debts.Ledger
	log       zerolog.Logger
	lowStock  int64
	tolerance decimal.Decimal
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		db:        d.DB,
		items:     d.Items,
		lookup:    d.Lookup,
		numbers:   d.Numbers,
		stock:     d.Stock,
		accounts:  d.Accounts,
		ledger:    d.Ledger,
		debts:     d.Debts,
		log:       d.Log.With().Str("component", "orchestrator").Logger(),
		lowStock:  d.LowStockThreshold,
		tolerance: d.Tolerance,
	}
	if o.lookup == nil {
		o.lookup = d.Accounts
	}
	if !o.tolerance.IsPositive() {
		o.tolerance = models.Tolerance
	}
	return o
}

// Options tunes Build.
type Options struct {
	BaseCurrency      string
	LowStockThreshold int64
	Tolerance         decimal.Decimal
}

// Build wires the record stores on db and returns an orchestrator over them.
func Build(db *gorm.DB, log zerolog.Logger, opt Options) (*Orchestrator, error) {
	l, err := ledger.New(db, log, opt.BaseCurrency)
	if err != nil {
		return nil, err
	}
	acc := accounts.New(db, log)
	return NewOrchestrator(Deps{
		DB:                db,
		Items:             catalog.New(db, log),
		Lookup:            acc,
		Numbers:           sequence.New(db, log),
		Stock:             stock.New(db, log),
		Accounts:          acc,
		Ledger:            l,
		Debts:             debts.New(db, log),
		Log:               log,
		LowStockThreshold: opt.LowStockThreshold,
		Tolerance:         opt.Tolerance,
	}), nil
}

func (o *Orchestrator) Stock() *stock.Ledger      { return o.stock }
func (o *Orchestrator) Accounts() *accounts.Store { return o.accounts }
func (o *Orchestrator) Ledger() *ledger.Ledger    { return o.ledger }

// AllocationInput is one share of a purchase or sale total.
type AllocationInput struct {
	Method    models.PaymentMethod `json:"method"`
	Amount    decimal.Decimal      `json:"amount"`
	AccountID *uint                `json:"account_id,omitempty"`
}

// fx is the currency context of a transaction.
type fx struct {
	currency string
	rate     decimal.Decimal
}

func (o *Orchestrator) resolveMoney(currency string, rate decimal.Decimal, v validation.Violations) fx {
	m := fx{currency: o.ledger.Base(), rate: decimal.NewFromInt(1)}
	if currency != "" {
		c, err := ledger.NormalizeCurrency(currency)
		if err != nil {
			v["currency"] = "unknown_currency"
			return m
		}
		m.currency = c
	}
	r, err := o.ledger.Rate(m.currency, rate)
	if err != nil {
		v["exchange_rate"] = "must_be_positive"
		return m
	}
	m.rate = r
	return m
}

func (o *Orchestrator) base(m fx, amount decimal.Decimal) decimal.Decimal {
	return o.ledger.BaseAmount(amount, m.currency, m.rate)
}

// validateAllocations checks each allocation and that they sum to total.
func (o *Orchestrator) validateAllocations(allocs []AllocationInput, total decimal.Decimal, v validation.Violations) {
	if len(allocs) == 0 {
		v["payments"] = "required"
		return
	}
	sum, settled := decimal.Zero, decimal.Zero
	credit := false
	for i, a := range allocs {
		field := fmt.Sprintf("payments[%d]", i)
		if !a.Method.Valid() {
			v[field+".method"] = "invalid"
		}
		validation.PositiveDecimal(field+".amount", a.Amount, v)
		if a.Method.IsCredit() {
			credit = true
			if a.AccountID != nil {
				v[field+".account_id"] = "not_allowed_for_credit"
			}
		} else {
			settled = settled.Add(a.Amount)
		}
		sum = sum.Add(a.Amount)
	}
	if _, bad := v["payments"]; bad {
		return
	}
	switch {
	case sum.Sub(total).Abs().GreaterThan(o.tolerance):
		v["payments"] = "payment_mismatch"
	case credit && total.Sub(settled).LessThanOrEqual(o.tolerance):
		// a credit share within tolerance would open a debt with nothing owed
		v["payments"] = "credit_below_tolerance"
	}
}

// checkAccounts makes sure every named account exists and is active.
func (o *Orchestrator) checkAccounts(ctx context.Context, allocs []AllocationInput) error {
	for _, a := range allocs {
		if a.AccountID == nil || a.Method.IsCredit() {
			continue
		}
		if _, err := o.lookup.Lookup(ctx, *a.AccountID); err != nil {
			return err
		}
	}
	return nil
}

func toAllocations(in []AllocationInput) []models.PaymentAllocation {
	out := make([]models.PaymentAllocation, 0, len(in))
	for _, a := range in {
		out = append(out, models.PaymentAllocation{Method: a.Method, Amount: a.Amount, AccountID: a.AccountID})
	}
	return out
}

// settlement derives amount paid, balance and status at creation time.
// Without a credit allocation the transaction is paid in full.
func settlement(total decimal.Decimal, allocs []models.PaymentAllocation) (paid, balance decimal.Decimal, status models.Status, credit bool) {
	settled, deferred := models.SplitAllocations(allocs)
	if deferred.IsZero() {
		return total, decimal.Zero, models.StatusPaid, false
	}
	balance = models.ClampBalance(total, settled)
	return total.Sub(balance), balance, models.StatusFor(total, balance), true
}

// postAllocations posts one account transaction per settled allocation that
// names an account.
func (o *Orchestrator) postAllocations(ctx context.Context, sg *saga.Saga, allocs []models.PaymentAllocation, m fx, typ models.AccountTxType, ref models.RefType, refID uint, desc string, at time.Time) error {
	for _, a := range allocs {
		if a.Method.IsCredit() || a.AccountID == nil {
			continue
		}
		tx, err := o.accounts.Post(ctx, accounts.Posting{
			AccountID:   *a.AccountID,
			Type:        typ,
			Amount:      o.base(m, a.Amount),
			Description: desc,
			RefType:     ref,
			RefID:       &refID,
			OccurredAt:  at,
		})
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("account %d %s", *a.AccountID, typ), o.undoPost(tx.ID))
	}
	return nil
}

func (o *Orchestrator) undoPost(txID uint) saga.Undo {
	return func(ctx context.Context) error {
		_, err := o.accounts.Unpost(ctx, txID)
		return err
	}
}

func (o *Orchestrator) undoEntry(entryID uint) saga.Undo {
	return func(ctx context.Context) error {
		_, err := o.ledger.Delete(ctx, entryID)
		return err
	}
}

// preflightReversal rejects voiding an origin whose postings, or whose debt
// payments' postings, sit on an inactive account.
func (o *Orchestrator) preflightReversal(ctx context.Context, ref models.RefType, refID uint) error {
	var ids []uint
	debt, err := o.debts.FindByRef(ctx, ref, refID)
	if err != nil {
		return err
	}
	if debt != nil {
		for _, p := range debt.Payments {
			if p.AccountTransactionID != nil {
				ids = append(ids, *p.AccountTransactionID)
			}
		}
	}
	txs, err := o.accounts.FindByRef(ctx, ref, refID)
	if err != nil {
		return err
	}
	for _, t := range txs {
		ids = append(ids, t.ID)
	}
	return o.accounts.CheckReversible(ctx, ids...)
}

// reverseDebt unwinds every payment of the debt attached to an origin (their
// ledger entries and account postings) and finally deletes the debt itself.
func (o *Orchestrator) reverseDebt(ctx context.Context, sg *saga.Saga, ref models.RefType, refID uint) error {
	debt, err := o.debts.FindByRef(ctx, ref, refID)
	if err != nil || debt == nil {
		return err
	}
	for i := len(debt.Payments) - 1; i >= 0; i-- {
		p := debt.Payments[i]
		if p.AccountTransactionID != nil {
			removed, err := o.accounts.Unpost(ctx, *p.AccountTransactionID)
			if err != nil {
				return err
			}
			sg.Push(fmt.Sprintf("unpost debt payment %d", p.ID), func(ctx context.Context) error {
				return o.accounts.Restore(ctx, removed)
			})
		}
		if p.LedgerEntryID != nil {
			removed, err := o.ledger.Delete(ctx, *p.LedgerEntryID)
			if err != nil {
				return err
			}
			sg.Push(fmt.Sprintf("delete debt payment entry %d", p.ID), func(ctx context.Context) error {
				return o.ledger.Restore(ctx, removed)
			})
		}
	}
	removed, err := o.debts.Delete(ctx, debt.ID)
	if err != nil {
		return err
	}
	sg.Push(fmt.Sprintf("delete debt %d", debt.ID), func(ctx context.Context) error {
		return o.debts.Restore(ctx, removed)
	})
	return nil
}

// reversePostings removes the account transactions and ledger entries that
// reference an origin.
func (o *Orchestrator) reversePostings(ctx context.Context, sg *saga.Saga, ref models.RefType, refID uint) error {
	entries, err := o.ledger.FindByRef(ctx, ref, refID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		removed, err := o.ledger.Delete(ctx, e.ID)
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("delete entry %d", e.ID), func(ctx context.Context) error {
			return o.ledger.Restore(ctx, removed)
		})
	}
	txs, err := o.accounts.FindByRef(ctx, ref, refID)
	if err != nil {
		return err
	}
	for _, t := range txs {
		removed, err := o.accounts.Unpost(ctx, t.ID)
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("unpost %d", t.ID), func(ctx context.Context) error {
			return o.accounts.Restore(ctx, removed)
		})
	}
	return nil
}

// adjust applies a stock delta and registers its inverse.
func (o *Orchestrator) adjust(ctx context.Context, sg *saga.Saga, itemID uint, delta int64) (*models.Item, error) {
	it, err := o.stock.Adjust(ctx, itemID, delta)
	if err != nil {
		return nil, err
	}
	sg.Push(fmt.Sprintf("stock item %d %+d", itemID, delta), func(ctx context.Context) error {
		_, err := o.stock.Adjust(ctx, itemID, -delta)
		return err
	})
	return it, nil
}

// snapshots keeps the latest state of every touched item, in first-touch order.
type snapshots struct {
	order []uint
	byID  map[uint]models.Item
}

func (s *snapshots) put(it *models.Item) {
	if s.byID == nil {
		s.byID = map[uint]models.Item{}
	}
	if _, ok := s.byID[it.ID]; !ok {
		s.order = append(s.order, it.ID)
	}
	s.byID[it.ID] = *it
}

func (s *snapshots) list() []models.Item {
	out := make([]models.Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
