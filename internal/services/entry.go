package services

import (
	"context"
	"fmt"

	"github.com/diewo77/go-ledger/internal/accounts"
	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/ledger"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/saga"
)

type EntryResult struct {
	Entry              *models.LedgerEntry        `json:"entry"`
	AccountTransaction *models.AccountTransaction `json:"account_transaction,omitempty"`
}

// RecordEntry writes a manual income or expense. When an account is named the
// base amount is deposited (income) or withdrawn (expense) there as well.
func (o *Orchestrator) RecordEntry(ctx context.Context, in ledger.EntryInput) (*EntryResult, error) {
	in.RefType, in.RefID, in.AccountTransactionID = "", nil, nil
	draft, err := o.ledger.Build(in)
	if err != nil {
		return nil, err
	}
	if in.AccountID != nil {
		if _, err := o.lookup.Lookup(ctx, *in.AccountID); err != nil {
			return nil, err
		}
	}

	sg := saga.New("entry.record", o.log)
	res := &EntryResult{}
	err = sg.Run(ctx, func(ctx context.Context) error {
		if in.AccountID != nil {
			typ := models.TxWithdrawal
			if draft.Direction == models.DirectionIncome {
				typ = models.TxDeposit
			}
			desc := draft.Description
			if desc == "" {
				desc = string(draft.Category)
			}
			tx, err := o.accounts.Post(ctx, accounts.Posting{
				AccountID:   *in.AccountID,
				Type:        typ,
				Amount:      draft.BaseAmount,
				Description: desc,
				OccurredAt:  draft.OccurredAt,
			})
			if err != nil {
				return err
			}
			sg.Push(fmt.Sprintf("account %d %s", *in.AccountID, typ), o.undoPost(tx.ID))
			res.AccountTransaction = tx
			in.AccountTransactionID = &tx.ID
		}
		entry, err := o.ledger.Record(ctx, in)
		if err != nil {
			return err
		}
		sg.Push(fmt.Sprintf("entry %d", entry.ID), o.undoEntry(entry.ID))
		res.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteEntry removes a manual entry and its account posting. Entries written
// for a purchase, sale or debt payment go away with their origin only.
func (o *Orchestrator) DeleteEntry(ctx context.Context, id uint) (*models.LedgerEntry, error) {
	e, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.IsManual() {
		return nil, apperr.Validation("id", "entry_not_manual")
	}
	if e.AccountTransactionID != nil {
		if err := o.accounts.CheckReversible(ctx, *e.AccountTransactionID); err != nil {
			return nil, err
		}
	}
	sg := saga.New("entry.delete", o.log)
	err = sg.Run(ctx, func(ctx context.Context) error {
		if e.AccountTransactionID != nil {
			removed, err := o.accounts.Unpost(ctx, *e.AccountTransactionID)
			if err != nil {
				return err
			}
			sg.Push("unpost", func(ctx context.Context) error { return o.accounts.Restore(ctx, removed) })
		}
		removed, err := o.ledger.Delete(ctx, e.ID)
		if err != nil {
			return err
		}
		sg.Push("delete entry", func(ctx context.Context) error { return o.ledger.Restore(ctx, removed) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CorrectEntry edits a manual entry; its base amount is recomputed.
func (o *Orchestrator) CorrectEntry(ctx context.Context, id uint, c ledger.Correction) (*models.LedgerEntry, error) {
	return o.ledger.Correct(ctx, id, c)
}
