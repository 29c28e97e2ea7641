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

type PurchaseLineInput struct {
	catalog.ItemRef
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// PurchaseInput is a supplier purchase. Total may be left zero, in which case
// it is the sum of quantity x unit cost over the lines.
type PurchaseInput struct {
	Supplier     string              `json:"supplier"`
	Currency     string              `json:"currency"`
	ExchangeRate decimal.Decimal     `json:"exchange_rate"`
	Total        decimal.Decimal     `json:"total"`
	OccurredAt   time.Time           `json:"occurred_at"`
	Notes        string              `json:"notes"`
	Lines        []PurchaseLineInput `json:"lines"`
	Payments     []AllocationInput   `json:"payments"`
}

type PurchaseResult struct {
	Purchase     *models.Purchase `json:"purchase"`
	UpdatedItems []models.Item    `json:"updated_items"`
	Debt         *models.Debt     `json:"debt,omitempty"`
}

func (o *Orchestrator) validatePurchase(in *PurchaseInput) (fx, error) {
	v := validation.Violations{}
	validation.Required("supplier", in.Supplier, v)
	if len(in.Lines) == 0 {
		v["lines"] = "required"
	}
	linesTotal := decimal.Zero
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.Empty() {
			v[field+".item"] = "required"
		}
		validation.PositiveInt(field+".quantity", l.Quantity, v)
		validation.NonNegativeDecimal(field+".unit_cost", l.UnitCost, v)
		linesTotal = linesTotal.Add(l.UnitCost.Mul(decimal.NewFromInt(l.Quantity)))
	}
	if in.Total.IsZero() {
		in.Total = linesTotal
	}
	validation.PositiveDecimal("total", in.Total, v)
	m := o.resolveMoney(in.Currency, in.ExchangeRate, v)
	o.validateAllocations(in.Payments, in.Total, v)
	return m, apperr.FromViolations(v)
}

// preflightItems resolves every line reference that must already exist, and
// rejects name-only references that can neither be found nor created.
func (o *Orchestrator) preflightItems(ctx context.Context, lines []PurchaseLineInput) error {
	for i, l := range lines {
		it, err := o.items.Find(ctx, l.ItemRef)
		if err != nil {
			return err
		}
		if it == nil && !l.CanCreate() {
			return apperr.Validation(fmt.Sprintf("lines[%d].item", i), "unresolved_item")
		}
	}
	return nil
}

// CreatePurchase registers a purchase: stock goes up by each line, the
// item's last cost is overwritten, settled allocations are withdrawn from
// their accounts, a credit allocation opens a payable debt, and one expense
// entry is written for the total.
func (o *Orchestrator) CreatePurchase(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	m, err := o.validatePurchase(&in)
	if err != nil {
		return nil, err
	}
	if err := o.checkAccounts(ctx, in.Payments); err != nil {
		return nil, err
	}
	if err := o.preflightItems(ctx, in.Lines); err != nil {
		return nil, err
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now()
	}

	sg := saga.New("purchase.create", o.log)
	res := &PurchaseResult{}
	err = sg.Run(ctx, func(ctx context.Context) error {
		number, err := o.numbers.Number(ctx, sequence.PrefixPurchase, sequence.Taken(o.db, &models.Purchase{}))
		if err != nil {
			return err
		}
		sg.Push("number "+number, nil)

		var touched snapshots
		lines := make([]models.PurchaseLine, 0, len(in.Lines))
		allRaw := true
		for _, l := range in.Lines {
			it, created, err := o.items.Resolve(ctx, l.ItemRef)
			if err != nil {
				return err
			}
			if created {
				id := it.ID
				sg.Push(fmt.Sprintf("create item %d", id), func(ctx context.Context) error { return o.items.Delete(ctx, id) })
			}
			if it, err = o.adjust(ctx, sg, it.ID, l.Quantity); err != nil {
				return err
			}
			prev, err := o.stock.SetUnitCost(ctx, it.ID, l.UnitCost)
			if err != nil {
				return err
			}
			id, cost := it.ID, l.UnitCost
			sg.Push(fmt.Sprintf("unit cost item %d", id), func(ctx context.Context) error {
				_, err := o.stock.RestoreUnitCost(ctx, id, cost, prev)
				return err
			})
			it.UnitCost = l.UnitCost
			touched.put(it)
			if it.Kind != models.ItemKindRawMaterial {
				allRaw = false
			}
			lines = append(lines, models.PurchaseLine{ItemID: it.ID, Quantity: l.Quantity, UnitCost: l.UnitCost, PreviousUnitCost: prev})
		}

		allocs := toAllocations(in.Payments)
		paid, balance, status, credit := settlement(in.Total, allocs)
		p := &models.Purchase{
			Number:       number,
			Supplier:     strings.TrimSpace(in.Supplier),
			Currency:     m.currency,
			ExchangeRate: m.rate,
			Total:        in.Total,
			AmountPaid:   paid,
			Balance:      balance,
			Status:       status,
			OccurredAt:   in.OccurredAt,
			Notes:        in.Notes,
			Lines:        lines,
			Payments:     allocs,
		}
		if err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(p).Error
		}); err != nil {
			return fmt.Errorf("persist purchase: %w", err)
		}
		sg.Push("persist purchase "+number, func(ctx context.Context) error { return o.purgePurchase(ctx, p.ID) })

		if credit {
			debt, err := o.debts.Open(ctx, debts.OpenInput{
				Kind: models.DebtPayable, RefType: models.RefPurchase, RefID: p.ID,
				Counterparty: p.Supplier, Currency: p.Currency, ExchangeRate: p.ExchangeRate,
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

		desc := fmt.Sprintf("Purchase %s - %s", number, p.Supplier)
		if err := o.postAllocations(ctx, sg, allocs, m, models.TxWithdrawal, models.RefPurchase, p.ID, desc, p.OccurredAt); err != nil {
			return err
		}

		category := models.CategoryFinishedGoodPurchase
		if allRaw {
			category = models.CategoryRawMaterialPurchase
		}
		entry, err := o.ledger.Record(ctx, ledger.EntryInput{
			Direction:    models.DirectionExpense,
			Category:     category,
			Description:  desc,
			Amount:       p.Total,
			Currency:     p.Currency,
			ExchangeRate: p.ExchangeRate,
			OccurredAt:   p.OccurredAt,
			RefType:      models.RefPurchase,
			RefID:        &p.ID,
			Metadata:     models.Metadata{"number": number},
		})
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("entry %d", entry.ID), o.undoEntry(entry.ID))

		res.Purchase = p
		res.UpdatedItems = touched.list()
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("number", res.Purchase.Number).Str("total", res.Purchase.Total.String()).Str("status", string(res.Purchase.Status)).Msg("purchase registered")
	return res, nil
}

// purgePurchase hard-deletes a purchase row with its lines and allocations.
func (o *Orchestrator) purgePurchase(ctx context.Context, id uint) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("purchase_id = ?", id).Delete(&models.PurchaseLine{}).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_type = ? AND owner_id = ?", string(models.RefPurchase), id).Delete(&models.PaymentAllocation{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Purchase{}, id).Error
	})
}

// GetPurchase loads a live purchase with its lines and allocations.
func (o *Orchestrator) GetPurchase(ctx context.Context, id uint) (*models.Purchase, error) {
	var p models.Purchase
	err := o.db.WithContext(ctx).Preload("Lines.Item").Preload("Payments").First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("purchase", id)
		}
		return nil, fmt.Errorf("load purchase %d: %w", id, err)
	}
	return &p, nil
}

// DeletePurchase voids a purchase, applying the inverse of every write made
// at registration and by later debt payments: payment entries and postings,
// the purchase's own postings and entry, the debt, the stock received and
// the unit cost it set. The row is kept, cancelled and soft-deleted, so its
// number stays reserved.
func (o *Orchestrator) DeletePurchase(ctx context.Context, id uint) (*models.Purchase, error) {
	p, err := o.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	deltas := make([]stock.Delta, 0, len(p.Lines))
	for _, l := range p.Lines {
		deltas = append(deltas, stock.Delta{ItemID: l.ItemID, Qty: -l.Quantity})
	}
	if err := o.stock.Check(ctx, deltas); err != nil {
		return nil, err
	}
	if err := o.preflightReversal(ctx, models.RefPurchase, p.ID); err != nil {
		return nil, err
	}

	sg := saga.New("purchase.delete", o.log)
	err = sg.Run(ctx, func(ctx context.Context) error {
		if err := o.reverseDebt(ctx, sg, models.RefPurchase, p.ID); err != nil {
			return err
		}
		if err := o.reversePostings(ctx, sg, models.RefPurchase, p.ID); err != nil {
			return err
		}
		for i := len(p.Lines) - 1; i >= 0; i-- {
			l := p.Lines[i]
			if _, err := o.adjust(ctx, sg, l.ItemID, -l.Quantity); err != nil {
				return err
			}
			restored, err := o.stock.RestoreUnitCost(ctx, l.ItemID, l.UnitCost, l.PreviousUnitCost)
			if err != nil {
				return err
			}
			if restored {
				sg.Push(fmt.Sprintf("restore unit cost item %d", l.ItemID), func(ctx context.Context) error {
					_, err := o.stock.SetUnitCost(ctx, l.ItemID, l.UnitCost)
					return err
				})
			}
		}
		return o.cancel(ctx, sg, &models.Purchase{}, p.ID, p.Status)
	})
	if err != nil {
		return nil, err
	}
	p.Status = models.StatusCancelled
	o.log.Info().Str("number", p.Number).Msg("purchase voided")
	return p, nil
}

// cancel marks a purchase or sale cancelled and soft-deletes it.
func (o *Orchestrator) cancel(ctx context.Context, sg *saga.Saga, model any, id uint, prev models.Status) error {
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(model).Where("id = ?", id).Update("status", models.StatusCancelled).Error; err != nil {
			return err
		}
		return tx.Delete(model, id).Error
	})
	if err != nil {
		return fmt.Errorf("cancel %d: %w", id, err)
	}
	sg.Push(fmt.Sprintf("cancel %d", id), func(ctx context.Context) error {
		return o.db.WithContext(ctx).Unscoped().Model(model).Where("id = ?", id).
			Updates(map[string]any{"status": prev, "deleted_at": nil}).Error
	})
	return nil
}
