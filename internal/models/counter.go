package models

import "time"

// Counter backs the transaction number sequences (one row per prefix).
type Counter struct {
	Name      string `gorm:"primaryKey;size:40"`
	Value     int64  `gorm:"not null"`
	UpdatedAt time.Time
}
