package models

import "time"

// ProductionStatus tracks a production order.
type ProductionStatus string

const (
	ProductionPlanned    ProductionStatus = "planned"
	ProductionInProgress ProductionStatus = "in_progress"
	ProductionCompleted  ProductionStatus = "completed"
	ProductionCancelled  ProductionStatus = "cancelled"
)

// ProductionOrder turns raw materials into a finished item. Materials are
// consumed when the order starts and given back if it is cancelled midway.
type ProductionOrder struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Number   string           `gorm:"size:30;uniqueIndex;not null" json:"number"`
	ItemID   uint             `gorm:"index;not null" json:"item_id"`
	Item     *Item            `gorm:"foreignKey:ItemID" json:"item,omitempty"`
	Quantity int64            `gorm:"not null" json:"quantity"`
	Status   ProductionStatus `gorm:"size:20;not null;index" json:"status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Materials []ProductionMaterial `gorm:"foreignKey:OrderID" json:"materials,omitempty"`
}

type ProductionMaterial struct {
	ID       uint  `gorm:"primaryKey" json:"id"`
	OrderID  uint  `gorm:"index;not null" json:"order_id"`
	ItemID   uint  `gorm:"index;not null" json:"item_id"`
	Item     *Item `gorm:"foreignKey:ItemID" json:"item,omitempty"`
	Quantity int64 `gorm:"not null" json:"quantity"`
}
