package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/catalog"
	"github.com/diewo77/go-ledger/internal/debts"
	"github.com/diewo77/go-ledger/internal/ledger"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/saga"
	"github.com/diewo77/go-ledger/internal/sequence"
	"github.com/diewo77/go-ledger/internal/stock"
	"github.com/diewo77/go-ledger/internal/validation"
)

// SaleLineInput references an existing item. A zero unit price means the
// item's own selling price.
type SaleLineInput struct {
	catalog.ItemRef
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleInput struct {
	Customer     string            `json:"customer"`
	Currency     string            `json:"currency"`
	ExchangeRate decimal.Decimal   `json:"exchange_rate"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Notes        string            `json:"notes"`
	Lines        []SaleLineInput   `json:"lines"`
	Payments     []AllocationInput `json:"payments"`
}

// LowStockAdvisory flags an item left at or below the threshold by a sale.
// It never blocks the sale.
type LowStockAdvisory struct {
	ItemID    uint   `json:"item_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	Threshold int64  `json:"threshold"`
}

type SaleResult struct {
	Sale         *models.Sale       `json:"sale"`
	UpdatedItems []models.Item      `json:"updated_items"`
	Debt         *models.Debt       `json:"debt,omitempty"`
	Advisories   []LowStockAdvisory `json:"advisories,omitempty"`
}

type resolvedSaleLine struct {
	item  *models.Item
	qty   int64
	price decimal.Decimal
}

// prepareSale validates the payload and resolves every line, so that no
// write happens unless the whole sale can go through.
func (o *Orchestrator) prepareSale(ctx context.Context, in *SaleInput) (fx, []resolvedSaleLine, decimal.Decimal, error) {
	v := validation.Violations{}
	validation.Required("customer", in.Customer, v)
	if len(in.Lines) == 0 {
		v["lines"] = "required"
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.Empty() {
			v[field+".item"] = "required"
		}
		validation.PositiveInt(field+".quantity", l.Quantity, v)
		validation.NonNegativeDecimal(field+".unit_price", l.UnitPrice, v)
	}
	m := o.resolveMoney(in.Currency, in.ExchangeRate, v)
	if err := apperr.FromViolations(v); err != nil {
		return m, nil, decimal.Zero, err
	}

	lines := make([]resolvedSaleLine, 0, len(in.Lines))
	total := decimal.Zero
	for i, l := range in.Lines {
		it, err := o.items.Find(ctx, l.ItemRef)
		if err != nil {
			return m, nil, decimal.Zero, err
		}
		if it == nil {
			return m, nil, decimal.Zero, apperr.NotFound("item", l.Name)
		}
		price := l.UnitPrice
		if price.IsZero() {
			price = it.UnitPrice
		}
		if !price.IsPositive() {
			return m, nil, decimal.Zero, apperr.Validation(fmt.Sprintf("lines[%d].unit_price", i), "must_be_positive")
		}
		lines = append(lines, resolvedSaleLine{item: it, qty: l.Quantity, price: price})
		total = total.Add(price.Mul(decimal.NewFromInt(l.Quantity)))
	}

	o.validateAllocations(in.Payments, total, v)
	if err := apperr.FromViolations(v); err != nil {
		return m, nil, decimal.Zero, err
	}
	return m, lines, total, nil
}

// CreateSale registers a sale. Stock is checked for every line before any
// write and all shortages are reported together. The total is the sum of
// quantity x price; settled allocations are deposited, a credit allocation
// opens a receivable debt, and one income entry is written.
func (o *Orchestrator) CreateSale(ctx context.Context, in SaleInput) (*SaleResult, error) {
	m, lines, total, err := o.prepareSale(ctx, &in)
	if err != nil {
		return nil, err
	}
	if err := o.checkAccounts(ctx, in.Payments); err != nil {
		return nil, err
	}
	deltas := make([]stock.Delta, 0, len(lines))
	for _, l := range lines {
		deltas = append(deltas, stock.Delta{ItemID: l.item.ID, Qty: -l.qty})
	}
	if err := o.stock.Check(ctx, deltas); err != nil {
		return nil, err
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now()
	}

	sg := saga.New("sale.create", o.log)
	res := &SaleResult{}
	var touched snapshots
	err = sg.Run(ctx, func(ctx context.Context) error {
		number, err := o.numbers.Number(ctx, sequence.PrefixSale, sequence.Taken(o.db, &models.Sale{}))
		if err != nil {
			return err
		}
		sg.Push("number "+number, nil)

		saleLines := make([]models.SaleLine, 0, len(lines))
		for _, l := range lines {
			it, err := o.adjust(ctx, sg, l.item.ID, -l.qty)
			if err != nil {
				return err
			}
			touched.put(it)
			saleLines = append(saleLines, models.SaleLine{ItemID: it.ID, Quantity: l.qty, UnitPrice: l.price})
		}

		allocs := toAllocations(in.Payments)
		paid, balance, status, credit := settlement(total, allocs)
		s := &models.Sale{
			Number:       number,
			Customer:     strings.TrimSpace(in.Customer),
			Currency:     m.currency,
			ExchangeRate: m.rate,
			Total:        total,
			AmountPaid:   paid,
			Balance:      balance,
			Status:       status,
			OccurredAt:   in.OccurredAt,
			Notes:        in.Notes,
			Lines:        saleLines,
			Payments:     allocs,
		}
		if err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(s).Error
		}); err != nil {
			return fmt.Errorf("persist sale: %w", err)
		}
		sg.Push("persist sale "+number, func(ctx context.Context) error { return o.purgeSale(ctx, s.ID) })

		if credit {
			debt, err := o.debts.Open(ctx, debts.OpenInput{
				Kind: models.DebtReceivable, RefType: models.RefSale, RefID: s.ID,
				Counterparty: s.Customer, Currency: s.Currency, ExchangeRate: s.ExchangeRate,
				Original: balance,
			})
			if err != nil {
				return err
			}
			sg.Push(fmt.Sprintf("open debt %d", debt.ID), func(ctx context.Context) error {
				_, err := o.debts.Delete(ctx, debt.ID)
				return err
			})
			res.Debt = debt
		}

		desc := fmt.Sprintf("Sale %s - %s", number, s.Customer)
		if err := o.postAllocations(ctx, sg, allocs, m, models.TxDeposit, models.RefSale, s.ID, desc, s.OccurredAt); err != nil {
			return err
		}

		entry, err := o.ledger.Record(ctx, ledger.EntryInput{
			Direction:    models.DirectionIncome,
			Category:     models.CategoryProductSales,
			Description:  desc,
			Amount:       total,
			Currency:     s.Currency,
			ExchangeRate: s.ExchangeRate,
			OccurredAt:   s.OccurredAt,
			RefType:      models.RefSale,
			RefID:        &s.ID,
			Metadata:     models.Metadata{"number": number},
		})
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("entry %d", entry.ID), o.undoEntry(entry.ID))

		res.Sale = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.UpdatedItems = touched.list()
	res.Advisories = o.lowStockAdvisories(res.UpdatedItems)
	o.log.Info().Str("number", res.Sale.Number).Str("total", res.Sale.Total.String()).Str("status", string(res.Sale.Status)).Msg("sale registered")
	return res, nil
}

func (o *Orchestrator) lowStockAdvisories(items []models.Item) []LowStockAdvisory {
	var out []LowStockAdvisory
	if o.lowStock <= 0 {
		return nil
	}
	for _, it := range items {
		if it.Quantity > o.lowStock {
			continue
		}
		out = append(out, LowStockAdvisory{ItemID: it.ID, Code: it.Code, Name: it.Name, Quantity: it.Quantity, Threshold: o.lowStock})
		o.log.Warn().Uint("item_id", it.ID).Str("name", it.Name).Int64("quantity", it.Quantity).Msg("low stock")
	}
	return out
}

func (o *Orchestrator) purgeSale(ctx context.Context, id uint) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sale_id = ?", id).Delete(&models.SaleLine{}).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_type = ? AND owner_id = ?", string(models.RefSale), id).Delete(&models.PaymentAllocation{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Sale{}, id).Error
	})
}

// GetSale loads a live sale with its lines and allocations.
func (o *Orchestrator) GetSale(ctx context.Context, id uint) (*models.Sale, error) {
	var s models.Sale
	err := o.db.WithContext(ctx).Preload("Lines.Item").Preload("Payments").First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("sale", id)
		}
		return nil, fmt.Errorf("load sale %d: %w", id, err)
	}
	return &s, nil
}

// DeleteSale voids a sale: collected payments and their postings are
// unwound, the sale's deposits and income entry removed, its debt deleted and
// the sold quantities returned to stock.
func (o *Orchestrator) DeleteSale(ctx context.Context, id uint) (*models.Sale, error) {
	s, err := o.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.preflightReversal(ctx, models.RefSale, s.ID); err != nil {
		return nil, err
	}
	sg := saga.New("sale.delete", o.log)
	err = sg.Run(ctx, func(ctx context.Context) error {
		if err := o.reverseDebt(ctx, sg, models.RefSale, s.ID); err != nil {
			return err
		}
		if err := o.reversePostings(ctx, sg, models.RefSale, s.ID); err != nil {
			return err
		}
		for i := len(s.Lines) - 1; i >= 0; i-- {
			if _, err := o.adjust(ctx, sg, s.Lines[i].ItemID, s.Lines[i].Quantity); err != nil {
				return err
			}
		}
		return o.cancel(ctx, sg, &models.Sale{}, s.ID, s.Status)
	})
	if err != nil {
		return nil, err
	}
	s.Status = models.StatusCancelled
	o.log.Info().Str("number", s.Number).Msg("sale voided")
	return s, nil
}
