package models

// All lists every persisted model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Item{},
		&Account{},
		&AccountTransaction{},
		&Purchase{},
		&PurchaseLine{},
		&Sale{},
		&SaleLine{},
		&PaymentAllocation{},
		&Debt{},
		&DebtPayment{},
		&LedgerEntry{},
		&Counter{},
		&ProductionOrder{},
		&ProductionMaterial{},
	}
}
