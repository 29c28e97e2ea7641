package debts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Debt{}, &models.DebtPayment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func openPayable(t *testing.T, l *Ledger, refID uint, original int64) *models.Debt {
	debt, err := l.Open(context.Background(), OpenInput{
		Kind: models.DebtPayable, RefType: models.RefPurchase, RefID: refID,
		Counterparty: "Maderas SA", Currency: "USD", ExchangeRate: dec(1), Original: dec(original),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return debt
}

func TestPaymentsMoveBalanceAndStatus(t *testing.T) {
	l := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	debt := openPayable(t, l, 1, 300)
	if debt.Status() != models.StatusPending || !debt.Balance.Equal(dec(300)) {
		t.Fatalf("new debt = %+v", debt)
	}

	steps := []struct {
		amount  int64
		balance int64
		status  models.Status
	}{
		{100, 200, models.StatusPartiallyPaid},
		{200, 0, models.StatusPaid},
	}
	for _, s := range steps {
		got, pay, err := l.ApplyPayment(ctx, debt.ID, Payment{Amount: dec(s.amount), Method: models.MethodCash})
		if err != nil {
			t.Fatalf("pay %d: %v", s.amount, err)
		}
		if !got.Balance.Equal(dec(s.balance)) || got.Status() != s.status {
			t.Fatalf("after %d: balance=%s status=%s", s.amount, got.Balance, got.Status())
		}
		if !got.Balance.Equal(got.Original.Sub(got.Paid)) {
			t.Fatalf("balance != original - paid")
		}
		if pay.ID == 0 {
			t.Fatalf("payment not persisted")
		}
	}
	reloaded, _ := l.Get(ctx, debt.ID)
	if len(reloaded.Payments) != 2 || !reloaded.Payments[0].Amount.Equal(dec(100)) {
		t.Fatalf("history = %+v", reloaded.Payments)
	}
}

func TestApplyPaymentRejections(t *testing.T) {
	l := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	debt := openPayable(t, l, 1, 100)

	tests := []struct {
		name string
		id   uint
		p    Payment
		want error
	}{
		{"over balance", debt.ID, Payment{Amount: dec(101), Method: models.MethodCash}, apperr.ErrValidation},
		{"zero amount", debt.ID, Payment{Amount: dec(0), Method: models.MethodCash}, apperr.ErrValidation},
		{"credit method", debt.ID, Payment{Amount: dec(10), Method: models.MethodCredit}, apperr.ErrValidation},
		{"missing debt", 404, Payment{Amount: dec(10), Method: models.MethodCash}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := l.ApplyPayment(ctx, tt.id, tt.p); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	// within tolerance of the balance is accepted and clamps to zero
	got, _, err := l.ApplyPayment(ctx, debt.ID, Payment{Amount: decimal.RequireFromString("100.005"), Method: models.MethodTransfer})
	if err != nil {
		t.Fatalf("pay within tolerance: %v", err)
	}
	if !got.Balance.IsZero() || got.Status() != models.StatusPaid {
		t.Fatalf("balance=%s status=%s", got.Balance, got.Status())
	}
}

func TestRevertPayment(t *testing.T) {
	l := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	debt := openPayable(t, l, 1, 300)
	_, pay, err := l.ApplyPayment(ctx, debt.ID, Payment{Amount: dec(120), Method: models.MethodCash})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	got, removed, err := l.RevertPayment(ctx, pay.ID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if !got.Balance.Equal(dec(300)) || len(got.Payments) != 0 {
		t.Fatalf("after revert: %+v", got)
	}
	if removed.ID != pay.ID || !removed.Amount.Equal(dec(120)) {
		t.Fatalf("removed = %+v", removed)
	}
	if _, _, err := l.RevertPayment(ctx, pay.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second revert should be not found, got %v", err)
	}
}

func TestFindByRefDeleteRestore(t *testing.T) {
	l := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	if d, err := l.FindByRef(ctx, models.RefPurchase, 5); err != nil || d != nil {
		t.Fatalf("expected nil,nil got %v,%v", d, err)
	}
	debt := openPayable(t, l, 5, 50)
	if _, _, err := l.ApplyPayment(ctx, debt.ID, Payment{Amount: dec(20), Method: models.MethodCash}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	found, err := l.FindByRef(ctx, models.RefPurchase, 5)
	if err != nil || found == nil || found.ID != debt.ID {
		t.Fatalf("find: %v %v", found, err)
	}
	removed, err := l.Delete(ctx, debt.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := l.Get(ctx, debt.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("debt still there: %v", err)
	}
	if err := l.Restore(ctx, removed); err != nil {
		t.Fatalf("restore: %v", err)
	}
	back, _ := l.Get(ctx, debt.ID)
	if len(back.Payments) != 1 || !back.Balance.Equal(dec(30)) {
		t.Fatalf("restored = %+v", back)
	}
	if _, err := l.Open(ctx, OpenInput{Kind: models.DebtPayable, RefType: models.RefPurchase, RefID: 5, Counterparty: "x", Original: dec(1)}); err == nil {
		t.Fatalf("second debt for the same purchase should be rejected")
	}
}

func TestFindByRefMissingLogsNothing(t *testing.T) {
	var buf bytes.Buffer
	db := setupTestDB(t)
	db = db.Session(&gorm.Session{Logger: gormlogger.New(log.New(&buf, "", 0), gormlogger.Config{LogLevel: gormlogger.Error})})
	l := New(db, zerolog.Nop())
	d, err := l.FindByRef(context.Background(), models.RefSale, 42)
	if err != nil || d != nil {
		t.Fatalf("expected nil,nil got %v,%v", d, err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected db log: %s", buf.String())
	}
}

func TestList(t *testing.T) {
	l := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	a := openPayable(t, l, 1, 10)
	openPayable(t, l, 2, 20)
	if _, err := l.Open(ctx, OpenInput{Kind: models.DebtReceivable, RefType: models.RefSale, RefID: 1, Counterparty: "Ana", Original: dec(5)}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, _, err := l.ApplyPayment(ctx, a.ID, Payment{Amount: dec(10), Method: models.MethodCash}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	tests := []struct {
		name string
		f    Filter
		want int
	}{
		{"all", Filter{}, 3},
		{"payable", Filter{Kind: models.DebtPayable}, 2},
		{"open payable", Filter{Kind: models.DebtPayable, OpenOnly: true}, 1},
		{"by counterparty", Filter{Counterparty: "ana"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.List(ctx, tt.f)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d debts, want %d", len(got), tt.want)
			}
		})
	}
}
