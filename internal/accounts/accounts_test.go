package accounts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Account{}, &models.AccountTransaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newAccount(t *testing.T, s *Store, label string, opening int64) *models.Account {
	acc, err := s.Create(context.Background(), CreateInput{Label: label, OpeningBalance: dec(opening)})
	if err != nil {
		t.Fatalf("create %s: %v", label, err)
	}
	return acc
}

func TestCreateRequiresLabel(t *testing.T) {
	s := New(setupTestDB(t), zerolog.Nop())
	if _, err := s.Create(context.Background(), CreateInput{}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPostAndUnpost(t *testing.T) {
	s := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	cash := newAccount(t, s, "Cash", 1000)

	w, err := s.Post(ctx, Posting{AccountID: cash.ID, Type: models.TxWithdrawal, Amount: dec(500)})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := s.Post(ctx, Posting{AccountID: cash.ID, Type: models.TxDeposit, Amount: dec(320)}); err != nil {
		t.Fatalf("post: %v", err)
	}
	got, _ := s.Get(ctx, cash.ID)
	if !got.Balance.Equal(dec(820)) {
		t.Fatalf("balance = %s, want 820", got.Balance)
	}

	removed, err := s.Unpost(ctx, w.ID)
	if err != nil {
		t.Fatalf("unpost: %v", err)
	}
	got, _ = s.Get(ctx, cash.ID)
	if !got.Balance.Equal(dec(1320)) {
		t.Fatalf("balance after unpost = %s, want 1320", got.Balance)
	}
	if err := s.Restore(ctx, removed); err != nil {
		t.Fatalf("restore: %v", err)
	}
	rec, err := s.Reconcile(ctx, cash.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Balanced || !rec.Stored.Equal(dec(820)) || rec.Postings != 2 {
		t.Fatalf("reconciliation = %+v", rec)
	}
}

func TestPostValidation(t *testing.T) {
	s := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	cash := newAccount(t, s, "Cash", 0)
	tests := []struct {
		name string
		p    Posting
		want error
	}{
		{"zero amount", Posting{AccountID: cash.ID, Type: models.TxDeposit, Amount: dec(0)}, apperr.ErrValidation},
		{"negative withdrawal", Posting{AccountID: cash.ID, Type: models.TxWithdrawal, Amount: dec(-3)}, apperr.ErrValidation},
		{"bad type", Posting{AccountID: cash.ID, Type: "gift", Amount: dec(3)}, apperr.ErrValidation},
		{"zero adjustment", Posting{AccountID: cash.ID, Type: models.TxAdjustment}, apperr.ErrValidation},
		{"missing account", Posting{AccountID: 77, Type: models.TxDeposit, Amount: dec(1)}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Post(ctx, tt.p); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := s.Post(ctx, Posting{AccountID: cash.ID, Type: models.TxAdjustment, Amount: dec(-5)}); err != nil {
		t.Fatalf("negative adjustment: %v", err)
	}
	got, _ := s.Get(ctx, cash.ID)
	if !got.Balance.Equal(dec(-5)) {
		t.Fatalf("balance = %s", got.Balance)
	}
}

func TestTransfer(t *testing.T) {
	s := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	cash := newAccount(t, s, "Cash", 300)
	bank := newAccount(t, s, "Bank", 0)

	tr, err := s.Transfer(ctx, cash.ID, bank.ID, dec(120), "")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tr.Deposit.RefID == nil || *tr.Deposit.RefID != tr.Withdrawal.ID {
		t.Fatalf("deposit should reference the withdrawal")
	}
	c, _ := s.Get(ctx, cash.ID)
	b, _ := s.Get(ctx, bank.ID)
	if !c.Balance.Equal(dec(180)) || !b.Balance.Equal(dec(120)) {
		t.Fatalf("cash=%s bank=%s", c.Balance, b.Balance)
	}
	if _, err := s.Transfer(ctx, cash.ID, cash.ID, dec(1), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("self transfer should fail, got %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	s := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	old := newAccount(t, s, "Old till", 250)
	main := newAccount(t, s, "Main", 0)

	if _, err := s.Deactivate(ctx, old.ID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected balance_not_zero, got %v", err)
	}
	acc, err := s.Deactivate(ctx, old.ID, &main.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if acc.Active || !acc.Balance.IsZero() {
		t.Fatalf("account = %+v", acc)
	}
	m, _ := s.Get(ctx, main.ID)
	if !m.Balance.Equal(dec(250)) {
		t.Fatalf("main balance = %s", m.Balance)
	}
	if _, err := s.Lookup(ctx, old.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("inactive account must not be usable, got %v", err)
	}
	if _, err := s.Post(ctx, Posting{AccountID: old.ID, Type: models.TxDeposit, Amount: dec(1)}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("posting to inactive account should fail, got %v", err)
	}
	list, _ := s.List(ctx, false)
	if len(list) != 1 || list[0].ID != main.ID {
		t.Fatalf("active list = %+v", list)
	}
}

func TestDeactivateNegativeBalance(t *testing.T) {
	s := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	over := newAccount(t, s, "Overdrawn", -40)
	main := newAccount(t, s, "Main", 100)

	acc, err := s.Deactivate(ctx, over.ID, &main.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !acc.Balance.IsZero() {
		t.Fatalf("balance = %s", acc.Balance)
	}
	m, _ := s.Get(ctx, main.ID)
	if !m.Balance.Equal(dec(60)) {
		t.Fatalf("main balance = %s, want 60", m.Balance)
	}
}

func TestClosedAccountPostingsStay(t *testing.T) {
	s := New(setupTestDB(t), zerolog.Nop())
	ctx := context.Background()
	till := newAccount(t, s, "Till", 100)
	main := newAccount(t, s, "Main", 0)
	w, err := s.Post(ctx, Posting{AccountID: till.ID, Type: models.TxWithdrawal, Amount: dec(40)})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	d, err := s.Post(ctx, Posting{AccountID: main.ID, Type: models.TxDeposit, Amount: dec(40)})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := s.CheckReversible(ctx, w.ID, d.ID); err != nil {
		t.Fatalf("active accounts should be reversible: %v", err)
	}
	if _, err := s.Deactivate(ctx, till.ID, &main.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if err := s.CheckReversible(ctx, d.ID, w.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected account_inactive, got %v", err)
	}
	if err := s.CheckReversible(ctx); err != nil {
		t.Fatalf("no postings: %v", err)
	}
	if _, err := s.Unpost(ctx, w.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unpost on closed account should fail, got %v", err)
	}
	got, _ := s.Get(ctx, till.ID)
	if !got.Balance.IsZero() {
		t.Fatalf("closed balance moved to %s", got.Balance)
	}
}
