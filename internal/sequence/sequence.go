// Package sequence hands out transaction numbers like C-000042.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/models"
)

// Prefixes in use.
const (
	PrefixPurchase   = "C"
	PrefixSale       = "V"
	PrefixProduction = "OP"
)

const maxAttempts = 5

// ErrExhausted is returned when no free number was found after retrying.
var ErrExhausted = errors.New("sequence_exhausted")

// ExistsFunc reports whether a number is already taken.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

type Generator struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *Generator {
	return &Generator{db: db, log: log.With().Str("component", "sequence").Logger()}
}

// Next increments the named counter and returns the new value. Increment and
// read happen in one transaction; a counter row is created on first use, and
// a concurrent creator losing the primary-key race simply retries.
func (g *Generator) Next(ctx context.Context, name string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var value int64
		err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Counter{}).Where("name = ?", name).
				Update("value", gorm.Expr("value + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				value = 1
				return tx.Create(&models.Counter{Name: name, Value: 1}).Error
			}
			var c models.Counter
			if err := tx.First(&c, "name = ?", name).Error; err != nil {
				return err
			}
			value = c.Value
			return nil
		})
		if err == nil {
			return value, nil
		}
		lastErr = err
		g.log.Warn().Err(err).Str("counter", name).Int("attempt", attempt+1).Msg("counter increment failed, retrying")
	}
	return 0, fmt.Errorf("next %s: %w", name, lastErr)
}

// Format renders a sequence value with its prefix.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}

// Number returns the next free number for prefix. Values already taken (for
// example by rows imported with their own numbers) are skipped.
func (g *Generator) Number(ctx context.Context, prefix string, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, err := g.Next(ctx, prefix)
		if err != nil {
			return "", err
		}
		number := Format(prefix, n)
		if exists == nil {
			return number, nil
		}
		taken, err := exists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", number, err)
		}
		if !taken {
			return number, nil
		}
		g.log.Warn().Str("number", number).Msg("number already taken, skipping")
	}
	return "", fmt.Errorf("%s: %w", prefix, ErrExhausted)
}

// Taken builds an ExistsFunc checking the number column of model, including
// soft-deleted rows since their numbers stay reserved.
func Taken(db *gorm.DB, model any) ExistsFunc {
	return func(ctx context.Context, number string) (bool, error) {
		var n int64
		if err := db.WithContext(ctx).Unscoped().Model(model).Where("number = ?", number).Count(&n).Error; err != nil {
			return false, err
		}
		return n > 0, nil
	}
}
