// Package accounts keeps cash and bank balances. A balance only moves through
// Post and Unpost, so it always equals the opening balance plus the signed
// sum of the account's transactions.
package accounts

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
	"github.com/diewo77/go-ledger/internal/saga"
	"github.com/diewo77/go-ledger/internal/validation"
)

type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "accounts").Logger()}
}

type CreateInput struct {
	Label          string          `json:"label"`
	Number         string          `json:"number"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

func (s *Store) Create(ctx context.Context, in CreateInput) (*models.Account, error) {
	v := validation.Violations{}
	validation.Required("label", in.Label, v)
	if err := apperr.FromViolations(v); err != nil {
		return nil, err
	}
	acc := models.Account{
		Label:          strings.TrimSpace(in.Label),
		Number:         strings.TrimSpace(in.Number),
		OpeningBalance: in.OpeningBalance,
		Balance:        in.OpeningBalance,
		Active:         true,
	}
	if err := s.db.WithContext(ctx).Create(&acc).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &acc, nil
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Account, error) {
	return getAccount(s.db.WithContext(ctx), id)
}

func getAccount(db *gorm.DB, id uint) (*models.Account, error) {
	var acc models.Account
	if err := db.First(&acc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("account", id)
		}
		return nil, fmt.Errorf("load account %d: %w", id, err)
	}
	return &acc, nil
}

// Lookup returns an account that may receive new postings.
func (s *Store) Lookup(ctx context.Context, id uint) (*models.Account, error) {
	acc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, apperr.Validation("account_id", "account_inactive")
	}
	return acc, nil
}

func (s *Store) List(ctx context.Context, includeInactive bool) ([]models.Account, error) {
	q := s.db.WithContext(ctx).Order("id")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var out []models.Account
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// Posting is a request to move an account balance.
type Posting struct {
	AccountID   uint
	Type        models.AccountTxType
	Amount      decimal.Decimal
	Description string
	RefType     models.RefType
	RefID       *uint
	OccurredAt  time.Time
}

// Post records a transaction and applies it to the balance in one db
// transaction. Only active accounts accept postings.
func (s *Store) Post(ctx context.Context, p Posting) (*models.AccountTransaction, error) {
	v := validation.Violations{}
	if !p.Type.Valid() {
		v["type"] = "invalid"
	}
	if p.Type == models.TxAdjustment {
		if p.Amount.IsZero() {
			v["amount"] = "must_not_be_zero"
		}
	} else {
		validation.PositiveDecimal("amount", p.Amount, v)
	}
	if err := apperr.FromViolations(v); err != nil {
		return nil, err
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = time.Now()
	}
	tx := models.AccountTransaction{
		AccountID:   p.AccountID,
		Type:        p.Type,
		Amount:      p.Amount,
		Description: p.Description,
		RefType:     p.RefType,
		RefID:       p.RefID,
		OccurredAt:  p.OccurredAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		acc, err := getAccount(db, p.AccountID)
		if err != nil {
			return err
		}
		if !acc.Active {
			return apperr.Validation("account_id", "account_inactive")
		}
		if err := db.Create(&tx).Error; err != nil {
			return fmt.Errorf("create account transaction: %w", err)
		}
		return applyBalance(db, acc, tx.SignedAmount())
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Uint("account_id", p.AccountID).Str("type", string(p.Type)).Str("amount", p.Amount.String()).Msg("posted")
	return &tx, nil
}

// Unpost deletes a transaction and takes its effect off the balance. The
// removed row is returned so Restore can put it back. A closed account keeps
// its zero balance: postings on it cannot be removed.
func (s *Store) Unpost(ctx context.Context, txID uint) (*models.AccountTransaction, error) {
	var removed models.AccountTransaction
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.First(&removed, txID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("account_transaction", txID)
			}
			return fmt.Errorf("load account transaction %d: %w", txID, err)
		}
		acc, err := getAccount(db, removed.AccountID)
		if err != nil {
			return err
		}
		if !acc.Active {
			return apperr.Validation("account_id", "account_inactive")
		}
		if err := db.Delete(&models.AccountTransaction{}, txID).Error; err != nil {
			return fmt.Errorf("delete account transaction %d: %w", txID, err)
		}
		return applyBalance(db, acc, removed.SignedAmount().Neg())
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// CheckReversible fails with account_inactive when any of the given postings
// belongs to a deactivated account.
func (s *Store) CheckReversible(ctx context.Context, txIDs ...uint) error {
	if len(txIDs) == 0 {
		return nil
	}
	var closed []uint
	err := s.db.WithContext(ctx).Model(&models.AccountTransaction{}).
		Joins("JOIN accounts ON accounts.id = account_transactions.account_id").
		Where("account_transactions.id IN ? AND accounts.active = ?", txIDs, false).
		Pluck("account_transactions.account_id", &closed).Error
	if err != nil {
		return fmt.Errorf("check reversible postings: %w", err)
	}
	if len(closed) > 0 {
		s.log.Warn().Uint("account_id", closed[0]).Msg("reversal touches an inactive account")
		return apperr.Validation("account_id", "account_inactive")
	}
	return nil
}

// Restore re-inserts a transaction removed by Unpost, keeping its id.
func (s *Store) Restore(ctx context.Context, t *models.AccountTransaction) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		acc, err := getAccount(db, t.AccountID)
		if err != nil {
			return err
		}
		row := *t
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("restore account transaction %d: %w", t.ID, err)
		}
		return applyBalance(db, acc, row.SignedAmount())
	})
}

func applyBalance(db *gorm.DB, acc *models.Account, signed decimal.Decimal) error {
	next := acc.Balance.Add(signed)
	if err := db.Model(&models.Account{}).Where("id = ?", acc.ID).Update("balance", next).Error; err != nil {
		return fmt.Errorf("update balance %d: %w", acc.ID, err)
	}
	acc.Balance = next
	return nil
}

// Transactions lists postings of one account, oldest first.
func (s *Store) Transactions(ctx context.Context, accountID uint) ([]models.AccountTransaction, error) {
	var out []models.AccountTransaction
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("occurred_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list account transactions: %w", err)
	}
	return out, nil
}

// FindByRef lists postings made for a given purchase, sale, debt or transfer.
func (s *Store) FindByRef(ctx context.Context, refType models.RefType, refID uint) ([]models.AccountTransaction, error) {
	var out []models.AccountTransaction
	if err := s.db.WithContext(ctx).Where("ref_type = ? AND ref_id = ?", refType, refID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find account transactions by ref: %w", err)
	}
	return out, nil
}

// Transfer is the pair of postings written by a transfer.
type Transfer struct {
	Withdrawal *models.AccountTransaction `json:"withdrawal"`
	Deposit    *models.AccountTransaction `json:"deposit"`
}

// Transfer moves amount from one active account to another.
func (s *Store) Transfer(ctx context.Context, from, to uint, amount decimal.Decimal, description string) (*Transfer, error) {
	v := validation.Violations{}
	validation.PositiveDecimal("amount", amount, v)
	if from == to {
		v["target_account_id"] = "same_account"
	}
	if err := apperr.FromViolations(v); err != nil {
		return nil, err
	}
	if _, err := s.Lookup(ctx, from); err != nil {
		return nil, err
	}
	if _, err := s.Lookup(ctx, to); err != nil {
		return nil, err
	}
	if description == "" {
		description = fmt.Sprintf("transfer %d -> %d", from, to)
	}

	sg := saga.New("account.transfer", s.log)
	out := &Transfer{}
	err := sg.Run(ctx, func(ctx context.Context) error {
		w, err := s.Post(ctx, Posting{AccountID: from, Type: models.TxWithdrawal, Amount: amount, Description: description, RefType: models.RefAccountTransfer})
		if err != nil {
			return err
		}
		sg.Push("withdrawal", s.undoPost(w.ID))
		out.Withdrawal = w

		d, err := s.Post(ctx, Posting{AccountID: to, Type: models.TxDeposit, Amount: amount, Description: description, RefType: models.RefAccountTransfer, RefID: &w.ID})
		if err != nil {
			return err
		}
		sg.Push("deposit", s.undoPost(d.ID))
		out.Deposit = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) undoPost(txID uint) saga.Undo {
	return func(ctx context.Context) error {
		_, err := s.Unpost(ctx, txID)
		return err
	}
}

// Deactivate closes an account. A non-zero balance needs a target account:
// the remainder is transferred there first (in whichever direction brings
// this account to zero).
func (s *Store) Deactivate(ctx context.Context, id uint, target *uint) (*models.Account, error) {
	acc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return acc, nil
	}
	sg := saga.New("account.deactivate", s.log)
	err = sg.Run(ctx, func(ctx context.Context) error {
		if !acc.Balance.IsZero() {
			if target == nil {
				return apperr.Validation("target_account_id", "balance_not_zero")
			}
			desc := fmt.Sprintf("closing account %d", id)
			var tr *Transfer
			var err error
			if acc.Balance.IsPositive() {
				tr, err = s.Transfer(ctx, id, *target, acc.Balance, desc)
			} else {
				tr, err = s.Transfer(ctx, *target, id, acc.Balance.Neg(), desc)
			}
			if err != nil {
				return err
			}
			sg.Push("forced_transfer", func(ctx context.Context) error {
				if _, err := s.Unpost(ctx, tr.Deposit.ID); err != nil {
					return err
				}
				_, err := s.Unpost(ctx, tr.Withdrawal.ID)
				return err
			})
		}
		if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate account %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("account_id", id).Msg("account deactivated")
	return s.Get(ctx, id)
}

// Reconciliation compares the stored balance with the one derived from history.
type Reconciliation struct {
	AccountID  uint            `json:"account_id"`
	Stored     decimal.Decimal `json:"stored"`
	Computed   decimal.Decimal `json:"computed"`
	Difference decimal.Decimal `json:"difference"`
	Balanced   bool            `json:"balanced"`
	Postings   int             `json:"postings"`
}

func (s *Store) Reconcile(ctx context.Context, id uint) (*Reconciliation, error) {
	acc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := s.Transactions(ctx, id)
	if err != nil {
		return nil, err
	}
	computed := acc.OpeningBalance
	for i := range txs {
		computed = computed.Add(txs[i].SignedAmount())
	}
	diff := acc.Balance.Sub(computed)
	return &Reconciliation{
		AccountID:  id,
		Stored:     acc.Balance,
		Computed:   computed,
		Difference: diff,
		Balanced:   diff.IsZero(),
		Postings:   len(txs),
	}, nil
}
