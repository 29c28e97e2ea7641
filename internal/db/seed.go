package db

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/sequence"
)

// DefaultAccountLabel names the cash box created on an empty database.
const DefaultAccountLabel = "Caja"

// Seed creates the default cash account when no account exists yet and the
// number counters. Running it twice changes nothing.
func Seed(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Account{}).Count(&n).Error; err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		if n == 0 {
			acc := models.Account{Label: DefaultAccountLabel, OpeningBalance: decimal.Zero, Balance: decimal.Zero, Active: true}
			if err := tx.Create(&acc).Error; err != nil {
				return fmt.Errorf("seed account: %w", err)
			}
		}
		for _, name := range []string{sequence.PrefixPurchase, sequence.PrefixSale, sequence.PrefixProduction} {
			var c models.Counter
			err := tx.First(&c, "name = ?", name).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := tx.Create(&models.Counter{Name: name}).Error; err != nil {
					return fmt.Errorf("seed counter %s: %w", name, err)
				}
				continue
			}
			if err != nil {
				return fmt.Errorf("load counter %s: %w", name, err)
			}
		}
		return nil
	})
}
