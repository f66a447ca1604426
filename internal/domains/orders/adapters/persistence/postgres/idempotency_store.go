package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

var _ ports.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore persists transition keys in PostgreSQL so every API replica and
// the worker replay the same outcome.
type IdempotencyStore struct {
	db *gorm.DB
}

func NewIdempotencyStore(db *gorm.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*ports.IdempotencyRecord, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record idempotencyRecord
	if err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record.toPort(), nil
}

// Save inserts the record; a concurrent or earlier insert of the same key wins and
// is compared against record.
func (s *IdempotencyStore) Save(ctx context.Context, record ports.IdempotencyRecord) (*ports.IdempotencyRecord, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	row := idempotencyRecord{
		Key:           record.Key,
		RequestHash:   record.RequestHash,
		OrderID:       record.OrderID,
		ResultVersion: record.ResultVersion,
		CreatedAt:     time.Now().UTC(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 1 {
		return row.toPort(), nil
	}
	existing, err := s.Get(ctx, record.Key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.New("idempotency record vanished after conflicting insert")
	}
	if existing.RequestHash != record.RequestHash || existing.OrderID != record.OrderID {
		return existing, ports.ErrIdempotencyConflict
	}
	return existing, nil
}

func (s *IdempotencyStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&idempotencyRecord{})
	return result.RowsAffected, result.Error
}

func (s *IdempotencyStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres idempotency store not configured")
	}
	return nil
}

type idempotencyRecord struct {
	Key           string    `gorm:"primaryKey;column:key;size:255"`
	RequestHash   string    `gorm:"column:request_hash;size:128"`
	OrderID       int64     `gorm:"column:order_id"`
	ResultVersion int64     `gorm:"column:result_version"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (idempotencyRecord) TableName() string { return "order_idempotency_keys" }

func (r *idempotencyRecord) toPort() *ports.IdempotencyRecord {
	return &ports.IdempotencyRecord{
		Key:           r.Key,
		RequestHash:   r.RequestHash,
		OrderID:       r.OrderID,
		ResultVersion: r.ResultVersion,
		CreatedAt:     r.CreatedAt,
	}
}
