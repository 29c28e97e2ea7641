// Package ledger is the income/expense journal. Every entry carries its
// amount in the transaction currency plus a base-currency amount that the
// ledger computes itself; callers never supply it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/validation"
)

type Ledger struct {
	db   *gorm.DB
	log  zerolog.Logger
	base *money.Currency
}

// New returns a ledger normalizing to the given ISO 4217 base currency.
func New(db *gorm.DB, log zerolog.Logger, base string) (*Ledger, error) {
	code, err := NormalizeCurrency(base)
	if err != nil {
		return nil, fmt.Errorf("base currency: %w", err)
	}
	return &Ledger{
		db:   db,
		log:  log.With().Str("component", "ledger").Logger(),
		base: money.GetCurrency(code),
	}, nil
}

// Base is the base currency code.
func (l *Ledger) Base() string { return l.base.Code }

// NormalizeCurrency upper-cases code and checks it is a known currency.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" || money.GetCurrency(c) == nil {
		return "", apperr.Validation("currency", "unknown_currency")
	}
	return c, nil
}

// Rate resolves the effective exchange rate of an amount in currency:
// always 1 for the base currency, otherwise the given rate which must be > 0.
func (l *Ledger) Rate(currency string, rate decimal.Decimal) (decimal.Decimal, error) {
	if currency == l.base.Code {
		return decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, apperr.Validation("exchange_rate", "must_be_positive")
	}
	return rate, nil
}

// BaseAmount converts amount to the base currency, rounded to the base
// currency's minor unit.
func (l *Ledger) BaseAmount(amount decimal.Decimal, currency string, rate decimal.Decimal) decimal.Decimal {
	if currency != l.base.Code {
		amount = amount.Mul(rate)
	}
	return amount.Round(int32(l.base.Fraction))
}

// Format renders a base-currency amount, e.g. "$1,234.50".
func (l *Ledger) Format(amount decimal.Decimal) string {
	minor := amount.Shift(int32(l.base.Fraction)).Round(0)
	return l.base.Formatter().Format(minor.IntPart())
}

// EntryInput describes a new ledger entry. Direction may be left empty and
// is then taken from the category.
type EntryInput struct {
	Direction    models.Direction `json:"direction"`
	Category     models.Category  `json:"category"`
	Description  string           `json:"description"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     string           `json:"currency"`
	ExchangeRate decimal.Decimal  `json:"exchange_rate"`
	OccurredAt   time.Time        `json:"occurred_at"`
	RefType      models.RefType   `json:"-"`
	RefID        *uint            `json:"-"`
	AccountID    *uint            `json:"account_id,omitempty"`
	Metadata     models.Metadata  `json:"metadata,omitempty"`

	AccountTransactionID *uint `json:"-"`
}

// Build validates in and returns the entry to persist with its base amount set.
func (l *Ledger) Build(in EntryInput) (*models.LedgerEntry, error) {
	v := validation.Violations{}
	dir, known := in.Category.Direction()
	switch {
	case !known:
		v["category"] = "invalid"
	case in.Direction == "":
		in.Direction = dir
	case !in.Direction.Valid():
		v["direction"] = "invalid"
	case in.Direction != dir:
		v["category"] = "category_direction_mismatch"
	}
	validation.PositiveDecimal("amount", in.Amount, v)

	currency := l.base.Code
	if in.Currency != "" {
		c, err := NormalizeCurrency(in.Currency)
		if err != nil {
			v["currency"] = "unknown_currency"
		} else {
			currency = c
		}
	}
	rate, err := l.Rate(currency, in.ExchangeRate)
	if err != nil {
		v["exchange_rate"] = "must_be_positive"
	}
	if err := apperr.FromViolations(v); err != nil {
		return nil, err
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now()
	}
	return &models.LedgerEntry{
		Direction:            in.Direction,
		Category:             in.Category,
		Description:          strings.TrimSpace(in.Description),
		Amount:               in.Amount,
		Currency:             currency,
		ExchangeRate:         rate,
		BaseAmount:           l.BaseAmount(in.Amount, currency, rate),
		OccurredAt:           in.OccurredAt,
		RefType:              in.RefType,
		RefID:                in.RefID,
		AccountID:            in.AccountID,
		AccountTransactionID: in.AccountTransactionID,
		Metadata:             in.Metadata,
	}, nil
}

// Record validates and appends an entry.
func (l *Ledger) Record(ctx context.Context, in EntryInput) (*models.LedgerEntry, error) {
	e, err := l.Build(in)
	if err != nil {
		return nil, err
	}
	if err := l.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}
	l.log.Debug().Uint("entry_id", e.ID).Str("category", string(e.Category)).Str("base_amount", e.BaseAmount.String()).Msg("entry recorded")
	return e, nil
}

func (l *Ledger) Get(ctx context.Context, id uint) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := l.db.WithContext(ctx).First(&e, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("ledger_entry", id)
		}
		return nil, fmt.Errorf("load ledger entry %d: %w", id, err)
	}
	return &e, nil
}

// Delete removes an entry and returns it so it can be restored.
func (l *Ledger) Delete(ctx context.Context, id uint) (*models.LedgerEntry, error) {
	e, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.db.WithContext(ctx).Delete(&models.LedgerEntry{}, id).Error; err != nil {
		return nil, fmt.Errorf("delete ledger entry %d: %w", id, err)
	}
	return e, nil
}

// Restore re-inserts an entry removed by Delete, keeping its id.
func (l *Ledger) Restore(ctx context.Context, e *models.LedgerEntry) error {
	row := *e
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("restore ledger entry %d: %w", e.ID, err)
	}
	return nil
}

// FindByRef lists entries created for one purchase, sale or debt.
func (l *Ledger) FindByRef(ctx context.Context, refType models.RefType, refID uint) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	if err := l.db.WithContext(ctx).Where("ref_type = ? AND ref_id = ?", refType, refID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find ledger entries by ref: %w", err)
	}
	return out, nil
}

// Count returns the number of entries in the journal.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.LedgerEntry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Correction holds the fields of a manual entry that may be changed.
type Correction struct {
	Category     *models.Category `json:"category,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Currency     *string          `json:"currency,omitempty"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
}

func (c Correction) touchesMoney() bool {
	return c.Amount != nil || c.Currency != nil || c.ExchangeRate != nil
}

// Correct edits a manual entry and recomputes its base amount. Entries
// created by a purchase, sale or debt payment are only changed by reversing
// their origin. Money fields of an entry that moved an account are frozen,
// since the posting would no longer match.
func (l *Ledger) Correct(ctx context.Context, id uint, c Correction) (*models.LedgerEntry, error) {
	e, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.IsManual() {
		return nil, apperr.Validation("id", "entry_not_manual")
	}
	if c.touchesMoney() && e.AccountTransactionID != nil {
		return nil, apperr.Validation("amount", "entry_has_account_posting")
	}
	in := EntryInput{
		Direction:    e.Direction,
		Category:     e.Category,
		Description:  e.Description,
		Amount:       e.Amount,
		Currency:     e.Currency,
		ExchangeRate: e.ExchangeRate,
		OccurredAt:   e.OccurredAt,
		AccountID:    e.AccountID,
		Metadata:     e.Metadata,

		AccountTransactionID: e.AccountTransactionID,
	}
	if c.Category != nil {
		in.Category = *c.Category
	}
	if c.Description != nil {
		in.Description = *c.Description
	}
	if c.Amount != nil {
		in.Amount = *c.Amount
	}
	if c.Currency != nil {
		in.Currency = *c.Currency
	}
	if c.ExchangeRate != nil {
		in.ExchangeRate = *c.ExchangeRate
	}
	next, err := l.Build(in)
	if err != nil {
		return nil, err
	}
	next.ID, next.CreatedAt = e.ID, e.CreatedAt
	if err := l.db.WithContext(ctx).Save(next).Error; err != nil {
		return nil, fmt.Errorf("correct ledger entry %d: %w", id, err)
	}
	return next, nil
}

// Summary aggregates base amounts over a period.
type Summary struct {
	From       time.Time                           `json:"from"`
	To         time.Time                           `json:"to"`
	Currency   string                              `json:"currency"`
	Income     decimal.Decimal                     `json:"income"`
	Expense    decimal.Decimal                     `json:"expense"`
	Net        decimal.Decimal                     `json:"net"`
	ByCategory map[models.Category]decimal.Decimal `json:"by_category"`
	Entries    int                                 `json:"entries"`
}

// Summary totals entries with from <= occurred_at < to. A zero bound is open.
func (l *Ledger) Summary(ctx context.Context, from, to time.Time) (*Summary, error) {
	q := l.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if !from.IsZero() {
		q = q.Where("occurred_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("occurred_at < ?", to)
	}
	var entries []models.LedgerEntry
	if err := q.Order("occurred_at, id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	s := &Summary{From: from, To: to, Currency: l.base.Code, ByCategory: map[models.Category]decimal.Decimal{}}
	for i := range entries {
		e := &entries[i]
		if e.Direction == models.DirectionIncome {
			s.Income = s.Income.Add(e.BaseAmount)
		} else {
			s.Expense = s.Expense.Add(e.BaseAmount)
		}
		s.ByCategory[e.Category] = s.ByCategory[e.Category].Add(e.BaseAmount)
		s.Net = s.Net.Add(e.Signed())
	}
	s.Entries = len(entries)
	return s, nil
}
