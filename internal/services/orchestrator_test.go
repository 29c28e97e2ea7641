package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/accounts"
	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/catalog"
	"github.com/diewo77/go-ledger/internal/debts"
	"github.com/diewo77/go-ledger/internal/ledger"
	"github.com/diewo77/go-ledger/internal/models"
)

type fixture struct {
	db   *gorm.DB
	o    *Orchestrator
	cash *models.Account
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	o, err := Build(db, zerolog.Nop(), Options{BaseCurrency: "USD", LowStockThreshold: 5})
	require.NoError(t, err)
	cash, err := o.Accounts().Create(context.Background(), accounts.CreateInput{Label: "Cash", OpeningBalance: dec(1000)})
	require.NoError(t, err)
	return &fixture{db: db, o: o, cash: cash}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (f *fixture) item(t *testing.T, name string, qty int64, kind models.ItemKind) *models.Item {
	t.Helper()
	it := models.Item{Code: "CAT-" + strings.ToUpper(name), Name: name, Category: "test", Variant: "std", Kind: kind, Quantity: qty, UnitPrice: dec(80)}
	require.NoError(t, f.db.Create(&it).Error)
	return &it
}

func (f *fixture) qty(t *testing.T, id uint) int64 {
	t.Helper()
	it, err := f.o.Stock().Get(context.Background(), id)
	require.NoError(t, err)
	return it.Quantity
}

func (f *fixture) balance(t *testing.T, id uint) decimal.Decimal {
	t.Helper()
	acc, err := f.o.Accounts().Get(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func (f *fixture) entries(t *testing.T) int64 {
	t.Helper()
	n, err := f.o.Ledger().Count(context.Background())
	require.NoError(t, err)
	return n
}

func cashPayment(amount int64, account uint) AllocationInput {
	return AllocationInput{Method: models.MethodCash, Amount: dec(amount), AccountID: &account}
}

func assertDecimal(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "%s: got %s want %d", msg, got, want)
}

func TestChairScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 0, models.ItemKindFinishedGood)

	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 10, UnitCost: dec(50)}},
		Payments: []AllocationInput{cashPayment(500, f.cash.ID)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, pr.Purchase.Status)
	assert.Equal(t, "C-000001", pr.Purchase.Number)
	require.Len(t, pr.UpdatedItems, 1)
	assert.Equal(t, int64(10), pr.UpdatedItems[0].Quantity)
	assertDecimal(t, 50, pr.UpdatedItems[0].UnitCost, "unit cost")
	assert.Equal(t, int64(10), f.qty(t, chair.ID))
	assertDecimal(t, 500, f.balance(t, f.cash.ID), "cash after purchase")

	entries, err := f.o.Ledger().FindByRef(ctx, models.RefPurchase, pr.Purchase.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DirectionExpense, entries[0].Direction)
	assert.Equal(t, models.CategoryFinishedGoodPurchase, entries[0].Category)
	assertDecimal(t, 500, entries[0].BaseAmount, "expense")

	sr, err := f.o.CreateSale(ctx, SaleInput{
		Customer: "Ana",
		Lines:    []SaleLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 4, UnitPrice: dec(80)}},
		Payments: []AllocationInput{cashPayment(320, f.cash.ID)},
	})
	require.NoError(t, err)
	assert.Equal(t, "V-000001", sr.Sale.Number)
	assert.Equal(t, int64(6), f.qty(t, chair.ID))
	assertDecimal(t, 820, f.balance(t, f.cash.ID), "cash after sale")
	assert.Empty(t, sr.Advisories)

	income, err := f.o.Ledger().FindByRef(ctx, models.RefSale, sr.Sale.ID)
	require.NoError(t, err)
	require.Len(t, income, 1)
	assert.Equal(t, models.CategoryProductSales, income[0].Category)
	assertDecimal(t, 320, income[0].BaseAmount, "income")
	assert.Equal(t, int64(2), f.entries(t))
}

func TestCreditPurchaseThenPayments(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	wood := f.item(t, "Pine", 0, models.ItemKindRawMaterial)

	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Total:    dec(300),
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: wood.ID}, Quantity: 30, UnitCost: dec(10)}},
		Payments: []AllocationInput{{Method: models.MethodCredit, Amount: dec(300)}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, pr.Purchase.Status)
	require.NotNil(t, pr.Debt)
	assertDecimal(t, 300, pr.Debt.Original, "original")
	assertDecimal(t, 300, pr.Debt.Balance, "balance")
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "credit moves no cash")

	entries, _ := f.o.Ledger().FindByRef(ctx, models.RefPurchase, pr.Purchase.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CategoryRawMaterialPurchase, entries[0].Category)

	steps := []struct {
		amount  int64
		balance int64
		status  models.Status
	}{
		{100, 200, models.StatusPartiallyPaid},
		{200, 0, models.StatusPaid},
	}
	for _, s := range steps {
		res, err := f.o.PayDebt(ctx, pr.Debt.ID, debts.Payment{Amount: dec(s.amount), Method: models.MethodCash, AccountID: &f.cash.ID})
		require.NoError(t, err)
		assertDecimal(t, s.balance, res.Debt.Balance, "debt balance")
		assert.Equal(t, s.status, res.Debt.Status())
		assert.Equal(t, models.CategoryDebtPayment, res.Entry.Category)
		require.NotNil(t, res.AccountTransaction)
		assert.Equal(t, models.TxPurchase, res.AccountTransaction.Type)

		p, err := f.o.GetPurchase(ctx, pr.Purchase.ID)
		require.NoError(t, err)
		assertDecimal(t, s.balance, p.Balance, "mirrored balance")
		assert.Equal(t, s.status, p.Status)
		assert.True(t, p.Balance.Add(p.AmountPaid).Equal(p.Total), "balance + paid = total")
	}
	assertDecimal(t, 700, f.balance(t, f.cash.ID), "cash after both payments")

	_, err = f.o.PayDebt(ctx, pr.Debt.ID, debts.Payment{Amount: dec(1), Method: models.MethodCash})
	assert.True(t, errors.Is(err, apperr.ErrValidation), "paying a settled debt must fail")
	assert.Equal(t, 400, apperr.HTTPStatus(err))
}

func TestPayDebtNotFound(t *testing.T) {
	f := setup(t)
	_, err := f.o.PayDebt(context.Background(), 99, debts.Payment{Amount: dec(1), Method: models.MethodCash})
	assert.Equal(t, 404, apperr.HTTPStatus(err))
}

func TestPayDebtTwiceDoubleCounts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	wood := f.item(t, "Pine", 0, models.ItemKindRawMaterial)
	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: wood.ID}, Quantity: 30, UnitCost: dec(10)}},
		Payments: []AllocationInput{{Method: models.MethodCredit, Amount: dec(300)}},
	})
	require.NoError(t, err)

	pay := debts.Payment{Amount: dec(100), Method: models.MethodCash}
	_, err = f.o.PayDebt(ctx, pr.Debt.ID, pay)
	require.NoError(t, err)
	res, err := f.o.PayDebt(ctx, pr.Debt.ID, pay)
	require.NoError(t, err)

	// identical calls are not deduplicated
	assert.Len(t, res.Debt.Payments, 2)
	assertDecimal(t, 100, res.Debt.Balance, "balance")
	assertDecimal(t, 200, res.Debt.Paid, "paid")
}

func TestPurchaseRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bank, err := f.o.Accounts().Create(ctx, accounts.CreateInput{Label: "Bank", OpeningBalance: dec(2000)})
	require.NoError(t, err)
	chair := f.item(t, "Chair", 3, models.ItemKindFinishedGood)
	require.NoError(t, f.db.Model(chair).Update("unit_cost", dec(45)).Error)
	entriesBefore := f.entries(t)

	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines: []PurchaseLineInput{
			{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 10, UnitCost: dec(50)},
			{ItemRef: catalog.ItemRef{Name: "Table", Category: "furniture", Variant: "oak"}, Quantity: 2, UnitCost: dec(100)},
		},
		Payments: []AllocationInput{
			cashPayment(300, f.cash.ID),
			{Method: models.MethodTransfer, Amount: dec(100), AccountID: &bank.ID},
			{Method: models.MethodCredit, Amount: dec(300)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyPaid, pr.Purchase.Status)
	require.Len(t, pr.UpdatedItems, 2)
	table := pr.UpdatedItems[1]
	assert.Equal(t, int64(2), table.Quantity)
	assert.Regexp(t, `^CAT-`, table.Code)

	// a partial payment on the debt must be unwound too
	_, err = f.o.PayDebt(ctx, pr.Debt.ID, debts.Payment{Amount: dec(50), Method: models.MethodCash, AccountID: &f.cash.ID})
	require.NoError(t, err)

	deleted, err := f.o.DeletePurchase(ctx, pr.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, deleted.Status)

	assert.Equal(t, int64(3), f.qty(t, chair.ID))
	assert.Equal(t, int64(0), f.qty(t, table.ID))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash restored")
	assertDecimal(t, 2000, f.balance(t, bank.ID), "bank restored")
	assert.Equal(t, entriesBefore, f.entries(t))
	restored, _ := f.o.Stock().Get(ctx, chair.ID)
	assertDecimal(t, 45, restored.UnitCost, "unit cost restored")

	_, err = f.o.GetDebt(ctx, pr.Debt.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "debt removed, got %v", err)
	_, err = f.o.GetPurchase(ctx, pr.Purchase.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	var kept models.Purchase
	require.NoError(t, f.db.Unscoped().First(&kept, pr.Purchase.ID).Error)
	assert.Equal(t, models.StatusCancelled, kept.Status)

	rec, err := f.o.Accounts().Reconcile(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced)
}

func TestPurchasePaymentMismatchHasNoSideEffects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 0, models.ItemKindFinishedGood)

	_, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 10, UnitCost: dec(50)}},
		Payments: []AllocationInput{cashPayment(499, f.cash.ID)},
	})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "payment_mismatch", ve.Details["payments"])

	assert.Equal(t, int64(0), f.qty(t, chair.ID))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash")
	assert.Equal(t, int64(0), f.entries(t))
	var n int64
	f.db.Model(&models.Purchase{}).Count(&n)
	assert.Zero(t, n)
}

func TestPurchaseValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 0, models.ItemKindFinishedGood)
	line := PurchaseLineInput{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 1, UnitCost: dec(10)}
	missing := uint(404)

	tests := []struct {
		name string
		in   PurchaseInput
		want error
	}{
		{"empty lines", PurchaseInput{Supplier: "x", Total: dec(10), Payments: []AllocationInput{cashPayment(10, f.cash.ID)}}, apperr.ErrValidation},
		{"no supplier", PurchaseInput{Lines: []PurchaseLineInput{line}, Payments: []AllocationInput{cashPayment(10, f.cash.ID)}}, apperr.ErrValidation},
		{"no payments", PurchaseInput{Supplier: "x", Lines: []PurchaseLineInput{line}}, apperr.ErrValidation},
		{"credit with account", PurchaseInput{Supplier: "x", Lines: []PurchaseLineInput{line}, Payments: []AllocationInput{{Method: models.MethodCredit, Amount: dec(10), AccountID: &f.cash.ID}}}, apperr.ErrValidation},
		{"unknown currency", PurchaseInput{Supplier: "x", Currency: "ZZZ", Lines: []PurchaseLineInput{line}, Payments: []AllocationInput{cashPayment(10, f.cash.ID)}}, apperr.ErrValidation},
		{"unknown account", PurchaseInput{Supplier: "x", Lines: []PurchaseLineInput{line}, Payments: []AllocationInput{cashPayment(10, missing)}}, apperr.ErrNotFound},
		{"unknown item", PurchaseInput{Supplier: "x", Lines: []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: missing}, Quantity: 1, UnitCost: dec(10)}}, Payments: []AllocationInput{cashPayment(10, f.cash.ID)}}, apperr.ErrNotFound},
		{"undescribed new item", PurchaseInput{Supplier: "x", Lines: []PurchaseLineInput{{ItemRef: catalog.ItemRef{Name: "Stool"}, Quantity: 1, UnitCost: dec(10)}}, Payments: []AllocationInput{cashPayment(10, f.cash.ID)}}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.o.CreatePurchase(ctx, tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, int64(0), f.entries(t))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash")
}

func TestSaleAllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 5, models.ItemKindFinishedGood)
	table := f.item(t, "Table", 1, models.ItemKindFinishedGood)
	lamp := f.item(t, "Lamp", 10, models.ItemKindFinishedGood)

	_, err := f.o.CreateSale(ctx, SaleInput{
		Customer: "Ana",
		Lines: []SaleLineInput{
			{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 6, UnitPrice: dec(10)},
			{ItemRef: catalog.ItemRef{ID: lamp.ID}, Quantity: 1, UnitPrice: dec(10)},
			{ItemRef: catalog.ItemRef{ID: table.ID}, Quantity: 2, UnitPrice: dec(10)},
		},
		Payments: []AllocationInput{cashPayment(90, f.cash.ID)},
	})
	var se *apperr.InsufficientStockError
	require.ErrorAs(t, err, &se)
	require.Len(t, se.Lines, 2)
	assert.Equal(t, chair.ID, se.Lines[0].ItemID)
	assert.Equal(t, table.ID, se.Lines[1].ItemID)
	assert.Equal(t, 400, apperr.HTTPStatus(err))

	assert.Equal(t, int64(5), f.qty(t, chair.ID))
	assert.Equal(t, int64(1), f.qty(t, table.ID))
	assert.Equal(t, int64(10), f.qty(t, lamp.ID))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash")
	assert.Equal(t, int64(0), f.entries(t))
}

func TestSaleDefaultsPriceAndWarnsLowStock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 7, models.ItemKindFinishedGood)

	res, err := f.o.CreateSale(ctx, SaleInput{
		Customer: "Ana",
		Lines:    []SaleLineInput{{ItemRef: catalog.ItemRef{Code: chair.Code}, Quantity: 3}},
		Payments: []AllocationInput{cashPayment(240, f.cash.ID)},
	})
	require.NoError(t, err)
	assertDecimal(t, 240, res.Sale.Total, "total at item price")
	require.Len(t, res.Advisories, 1)
	assert.Equal(t, int64(4), res.Advisories[0].Quantity)
	assert.Equal(t, int64(5), res.Advisories[0].Threshold)
}

func TestCreditSaleCollectionAndDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 10, models.ItemKindFinishedGood)

	res, err := f.o.CreateSale(ctx, SaleInput{
		Customer: "Ana",
		Lines:    []SaleLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 2, UnitPrice: dec(80)}},
		Payments: []AllocationInput{cashPayment(60, f.cash.ID), {Method: models.MethodCredit, Amount: dec(100)}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyPaid, res.Sale.Status)
	require.NotNil(t, res.Debt)
	assert.Equal(t, models.DebtReceivable, res.Debt.Kind)
	assertDecimal(t, 100, res.Debt.Original, "receivable")

	pay, err := f.o.PayDebt(ctx, res.Debt.ID, debts.Payment{Amount: dec(100), Method: models.MethodCash, AccountID: &f.cash.ID})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryDebtCollection, pay.Entry.Category)
	assert.Equal(t, models.TxDeposit, pay.AccountTransaction.Type)
	assertDecimal(t, 1160, f.balance(t, f.cash.ID), "cash after collection")
	sale, _ := f.o.GetSale(ctx, res.Sale.ID)
	assert.Equal(t, models.StatusPaid, sale.Status)

	_, err = f.o.DeleteSale(ctx, res.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.qty(t, chair.ID))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash restored")
	assert.Equal(t, int64(0), f.entries(t))

	_, err = f.o.DeleteSale(ctx, res.Sale.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "second delete")
}

func TestDeletePurchaseAfterStockWasSold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 0, models.ItemKindFinishedGood)
	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 5, UnitCost: dec(50)}},
		Payments: []AllocationInput{cashPayment(250, f.cash.ID)},
	})
	require.NoError(t, err)
	_, err = f.o.CreateSale(ctx, SaleInput{
		Customer: "Ana",
		Lines:    []SaleLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 3}},
		Payments: []AllocationInput{cashPayment(240, f.cash.ID)},
	})
	require.NoError(t, err)

	_, err = f.o.DeletePurchase(ctx, pr.Purchase.ID)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock), "got %v", err)
	assert.Equal(t, int64(2), f.qty(t, chair.ID))
	assert.Equal(t, int64(2), f.entries(t))
}

func TestForeignCurrencyPurchasePostsBaseAmount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 0, models.ItemKindFinishedGood)
	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier:     "Muebles MX",
		Currency:     "mxn",
		ExchangeRate: decimal.RequireFromString("0.05"),
		Lines:        []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 2, UnitCost: dec(1000)}},
		Payments:     []AllocationInput{cashPayment(2000, f.cash.ID)},
	})
	require.NoError(t, err)
	assert.Equal(t, "MXN", pr.Purchase.Currency)
	assertDecimal(t, 900, f.balance(t, f.cash.ID), "100 USD withdrawn")
	entries, _ := f.o.Ledger().FindByRef(ctx, models.RefPurchase, pr.Purchase.ID)
	require.Len(t, entries, 1)
	assertDecimal(t, 2000, entries[0].Amount, "amount in MXN")
	assertDecimal(t, 100, entries[0].BaseAmount, "base amount")
}

func TestPurchaseCompensatesOnStorageFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 2, models.ItemKindFinishedGood)
	// the last write of the sequence cannot succeed
	require.NoError(t, f.db.Migrator().DropTable(&models.LedgerEntry{}))

	_, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines: []PurchaseLineInput{
			{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 10, UnitCost: dec(50)},
			{ItemRef: catalog.ItemRef{Name: "Bench", Category: "furniture", Variant: "pine"}, Quantity: 1, UnitCost: dec(70)},
		},
		Payments: []AllocationInput{cashPayment(570, f.cash.ID)},
	})
	var ue *apperr.UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.NoError(t, ue.Compensation)
	assert.NotEmpty(t, ue.Applied)
	assert.Equal(t, 500, apperr.HTTPStatus(err))

	assert.Equal(t, int64(2), f.qty(t, chair.ID))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash")
	var purchases, benches int64
	f.db.Unscoped().Model(&models.Purchase{}).Count(&purchases)
	f.db.Model(&models.Item{}).Where("name = ?", "Bench").Count(&benches)
	assert.Zero(t, purchases)
	assert.Zero(t, benches, "item minted by the aborted purchase is removed")
}

func TestManualEntries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rent, err := f.o.RecordEntry(ctx, ledger.EntryInput{Category: models.CategoryRent, Amount: dec(300), Description: "March rent", AccountID: &f.cash.ID})
	require.NoError(t, err)
	require.NotNil(t, rent.AccountTransaction)
	assert.Equal(t, models.TxWithdrawal, rent.AccountTransaction.Type)
	assertDecimal(t, 700, f.balance(t, f.cash.ID), "after rent")

	tip, err := f.o.RecordEntry(ctx, ledger.EntryInput{Category: models.CategoryOtherIncome, Amount: dec(50), AccountID: &f.cash.ID})
	require.NoError(t, err)
	assert.Equal(t, models.TxDeposit, tip.AccountTransaction.Type)
	assertDecimal(t, 750, f.balance(t, f.cash.ID), "after income")

	plain, err := f.o.RecordEntry(ctx, ledger.EntryInput{Category: models.CategoryServices, Amount: dec(20)})
	require.NoError(t, err)
	assert.Nil(t, plain.AccountTransaction)

	_, err = f.o.DeleteEntry(ctx, rent.Entry.ID)
	require.NoError(t, err)
	assertDecimal(t, 1050, f.balance(t, f.cash.ID), "rent reversed")
	assert.Equal(t, int64(2), f.entries(t))

	chair := f.item(t, "Chair", 5, models.ItemKindFinishedGood)
	sr, err := f.o.CreateSale(ctx, SaleInput{Customer: "Ana", Lines: []SaleLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 1}}, Payments: []AllocationInput{cashPayment(80, f.cash.ID)}})
	require.NoError(t, err)
	generated, _ := f.o.Ledger().FindByRef(ctx, models.RefSale, sr.Sale.ID)
	require.Len(t, generated, 1)
	_, err = f.o.DeleteEntry(ctx, generated[0].ID)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.o.RecordEntry(ctx, ledger.EntryInput{Direction: models.DirectionIncome, Category: models.CategoryRent, Amount: dec(1)})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestVoidingRejectedOnceAccountIsClosed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bank, err := f.o.Accounts().Create(ctx, accounts.CreateInput{Label: "Bank"})
	require.NoError(t, err)
	till, err := f.o.Accounts().Create(ctx, accounts.CreateInput{Label: "Till", OpeningBalance: dec(400)})
	require.NoError(t, err)
	chair := f.item(t, "Chair", 0, models.ItemKindFinishedGood)
	wood := f.item(t, "Pine", 0, models.ItemKindRawMaterial)

	cashBuy, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 10, UnitCost: dec(50)}},
		Payments: []AllocationInput{cashPayment(500, f.cash.ID)},
	})
	require.NoError(t, err)
	creditBuy, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: wood.ID}, Quantity: 30, UnitCost: dec(10)}},
		Payments: []AllocationInput{{Method: models.MethodCredit, Amount: dec(300)}},
	})
	require.NoError(t, err)
	_, err = f.o.PayDebt(ctx, creditBuy.Debt.ID, debts.Payment{Amount: dec(100), Method: models.MethodCash, AccountID: &till.ID})
	require.NoError(t, err)
	rent, err := f.o.RecordEntry(ctx, ledger.EntryInput{Category: models.CategoryRent, Amount: dec(30), AccountID: &till.ID})
	require.NoError(t, err)

	_, err = f.o.Accounts().Deactivate(ctx, f.cash.ID, &bank.ID)
	require.NoError(t, err)
	_, err = f.o.Accounts().Deactivate(ctx, till.ID, &bank.ID)
	require.NoError(t, err)
	entriesBefore := f.entries(t)

	inactive := func(t *testing.T, err error) {
		t.Helper()
		var ve *apperr.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "account_inactive", ve.Message)
	}
	t.Run("purchase paid from closed account", func(t *testing.T) {
		_, err := f.o.DeletePurchase(ctx, cashBuy.Purchase.ID)
		inactive(t, err)
		assert.Equal(t, int64(10), f.qty(t, chair.ID))
		_, err = f.o.GetPurchase(ctx, cashBuy.Purchase.ID)
		assert.NoError(t, err)
	})
	t.Run("debt payment from closed account", func(t *testing.T) {
		_, err := f.o.DeletePurchase(ctx, creditBuy.Purchase.ID)
		inactive(t, err)
		debt, err := f.o.GetDebt(ctx, creditBuy.Debt.ID)
		require.NoError(t, err)
		assert.Len(t, debt.Payments, 1)
	})
	t.Run("manual entry on closed account", func(t *testing.T) {
		_, err := f.o.DeleteEntry(ctx, rent.Entry.ID)
		inactive(t, err)
	})

	assertDecimal(t, 0, f.balance(t, f.cash.ID), "closed cash stays at zero")
	assertDecimal(t, 0, f.balance(t, till.ID), "closed till stays at zero")
	assertDecimal(t, 770, f.balance(t, bank.ID), "bank")
	assert.Equal(t, entriesBefore, f.entries(t))
}

func TestCreditShareWithinToleranceIsRejectedUpFront(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 0, models.ItemKindFinishedGood)
	_, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Total:    dec(100),
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 2, UnitCost: dec(50)}},
		Payments: []AllocationInput{
			cashPayment(100, f.cash.ID),
			{Method: models.MethodCredit, Amount: decimal.RequireFromString("0.01")},
		},
	})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "credit_below_tolerance", ve.Details["payments"])
	assert.Equal(t, int64(0), f.qty(t, chair.ID))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash")
	assert.Equal(t, int64(0), f.entries(t))
}

func TestSaleCompensatesOnStorageFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	chair := f.item(t, "Chair", 5, models.ItemKindFinishedGood)
	require.NoError(t, f.db.Migrator().DropTable(&models.LedgerEntry{}))

	_, err := f.o.CreateSale(ctx, SaleInput{
		Customer: "Ana",
		Lines:    []SaleLineInput{{ItemRef: catalog.ItemRef{ID: chair.ID}, Quantity: 2}},
		Payments: []AllocationInput{cashPayment(60, f.cash.ID), {Method: models.MethodCredit, Amount: dec(100)}},
	})
	var ue *apperr.UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.NoError(t, ue.Compensation)
	assert.NotEmpty(t, ue.Applied)

	assert.Equal(t, int64(5), f.qty(t, chair.ID))
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash")
	var sales, open int64
	f.db.Unscoped().Model(&models.Sale{}).Count(&sales)
	f.db.Model(&models.Debt{}).Count(&open)
	assert.Zero(t, sales)
	assert.Zero(t, open)
}

func TestPayDebtCompensatesOnStorageFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	wood := f.item(t, "Pine", 0, models.ItemKindRawMaterial)
	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: wood.ID}, Quantity: 30, UnitCost: dec(10)}},
		Payments: []AllocationInput{{Method: models.MethodCredit, Amount: dec(300)}},
	})
	require.NoError(t, err)
	require.NoError(t, f.db.Migrator().DropTable(&models.LedgerEntry{}))

	_, err = f.o.PayDebt(ctx, pr.Debt.ID, debts.Payment{Amount: dec(100), Method: models.MethodCash, AccountID: &f.cash.ID})
	var ue *apperr.UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.NoError(t, ue.Compensation)
	assert.NotEmpty(t, ue.Applied)

	debt, err := f.o.GetDebt(ctx, pr.Debt.ID)
	require.NoError(t, err)
	assertDecimal(t, 300, debt.Balance, "debt balance")
	assert.Empty(t, debt.Payments)
	p, err := f.o.GetPurchase(ctx, pr.Purchase.ID)
	require.NoError(t, err)
	assertDecimal(t, 300, p.Balance, "purchase balance")
	assert.Equal(t, models.StatusPending, p.Status)
	assertDecimal(t, 1000, f.balance(t, f.cash.ID), "cash")
}

func TestDeletePurchaseCompensatesOnStorageFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	wood := f.item(t, "Pine", 0, models.ItemKindRawMaterial)
	pr, err := f.o.CreatePurchase(ctx, PurchaseInput{
		Supplier: "Maderas SA",
		Lines:    []PurchaseLineInput{{ItemRef: catalog.ItemRef{ID: wood.ID}, Quantity: 30, UnitCost: dec(10)}},
		Payments: []AllocationInput{{Method: models.MethodCredit, Amount: dec(300)}},
	})
	require.NoError(t, err)
	_, err = f.o.PayDebt(ctx, pr.Debt.ID, debts.Payment{Amount: dec(100), Method: models.MethodCash, AccountID: &f.cash.ID})
	require.NoError(t, err)
	// the payment posting is removed before its entry, which can no longer be read
	require.NoError(t, f.db.Migrator().DropTable(&models.LedgerEntry{}))

	_, err = f.o.DeletePurchase(ctx, pr.Purchase.ID)
	var ue *apperr.UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.NoError(t, ue.Compensation)
	assert.NotEmpty(t, ue.Applied)

	assertDecimal(t, 900, f.balance(t, f.cash.ID), "payment posting restored")
	assert.Equal(t, int64(30), f.qty(t, wood.ID))
	p, err := f.o.GetPurchase(ctx, pr.Purchase.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusCancelled, p.Status)
	debt, err := f.o.GetDebt(ctx, pr.Debt.ID)
	require.NoError(t, err)
	assert.Len(t, debt.Payments, 1)
}
