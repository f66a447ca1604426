package migrations

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Run applies the order service schema.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(&orderRecord{}, &orderIdempotencyRecord{})
}

// Order schema mirrors the orders Postgres adapter. The version column backs the
// conditional status update.
type orderRecord struct {
	ID                  int64          `gorm:"primaryKey;column:id"`
	Number              string         `gorm:"column:number;size:64;not null"`
	Status              string         `gorm:"column:status;type:varchar(32);not null;index:idx_orders_status_updated"`
	StatusEnteredAt     time.Time      `gorm:"column:status_entered_at;not null"`
	AutoAdvanceEligible bool           `gorm:"column:auto_advance_eligible;not null;default:true"`
	PauseReason         string         `gorm:"column:auto_advance_pause_reason;size:255"`
	Version             int64          `gorm:"column:version;not null;default:1"`
	Stations            pq.StringArray `gorm:"column:stations;type:text[]"`
	CreatedAt           time.Time      `gorm:"column:created_at;index"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;index:idx_orders_status_updated"`
}

func (orderRecord) TableName() string { return "orders" }

// Transition keys replayed by the conditional status update.
type orderIdempotencyRecord struct {
	Key           string    `gorm:"primaryKey;column:key;size:255"`
	RequestHash   string    `gorm:"column:request_hash;size:128;not null"`
	OrderID       int64     `gorm:"column:order_id;not null;index"`
	ResultVersion int64     `gorm:"column:result_version;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index"`
}

func (orderIdempotencyRecord) TableName() string { return "order_idempotency_keys" }
